package loam

// Document is the typed view of a definition stored in a loam repository.
// Nested sections stay loose; the compiler's parser owns their decoding.
type Document struct {
	ID             string           `json:"id,omitempty" mapstructure:"id"`
	Initial        string           `json:"initial,omitempty" mapstructure:"initial"`
	TerminalStates []string         `json:"terminalStates,omitempty" mapstructure:"terminalStates"`
	Transitions    []map[string]any `json:"transitions,omitempty" mapstructure:"transitions"`
	States         map[string]any   `json:"states,omitempty" mapstructure:"states"`
	Scripts        map[string]any   `json:"scripts,omitempty" mapstructure:"scripts"`
	ExternalAPIs   map[string]any   `json:"externalApis,omitempty" mapstructure:"externalApis"`
	ARIActions     map[string]any   `json:"ariActions,omitempty" mapstructure:"ariActions"`
}

// declaresMachine reports whether the document looks like a definition rather than notes or
// other vault content. loam strips file extensions from ids, so the metadata decides.
func (d Document) declaresMachine() bool {
	return d.Initial != "" || len(d.Transitions) > 0
}
