// Package node defines the contract every step implementation satisfies,
// the registry that maps node types to implementations, and the context
// a node receives when it runs
package node
