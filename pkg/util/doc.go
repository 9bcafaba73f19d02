// Package util provides small generic data structures shared by the engine
//
// It includes a comparable set and a hierarchical path index used by the
// timed task scheduler for prefix cancellation
package util
