package api

type (
	// NodeDefinition describes a node type registered with the engine
	NodeDefinition struct {
		ParameterSchema Value   `json:"parameter_schema"`
		Inputs          []*Port `json:"inputs,omitempty"`
		Outputs         []*Port `json:"outputs,omitempty"`
		Type            string  `json:"type"`
		Category        string  `json:"category,omitempty"`
		Description     string  `json:"description,omitempty"`
	}
)
