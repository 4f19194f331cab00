package main

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// CLITrigger is a JSON-friendly trigger.
type CLITrigger struct {
	Kind     string `json:"kind"`
	Pos      int    `json:"pos"`
	Cursor   int    `json:"cursor"`
	Implicit bool   `json:"implicit"`
	Language string `json:"language"`
	Operator string `json:"operator,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// CLICandidate is one completion.
type CLICandidate struct {
	Name      string `json:"name"`
	Ilk       string `json:"ilk"`
	Signature string `json:"signature,omitempty"`
	Type      string `json:"type,omitempty"`
}

// CLICompletion is the answer to a complete command.
type CLICompletion struct {
	Trigger    *CLITrigger    `json:"trigger"`
	Candidates []CLICandidate `json:"candidates"`
	Calltip    string         `json:"calltip,omitempty"`
}

// CLINode is a JSON-friendly CIX node.
type CLINode struct {
	Kind       string    `json:"kind"`
	Ilk        string    `json:"ilk,omitempty"`
	Name       string    `json:"name"`
	Lang       string    `json:"lang,omitempty"`
	Line       int       `json:"line,omitempty"`
	LineEnd    int       `json:"line_end,omitempty"`
	Signature  string    `json:"signature,omitempty"`
	Citdl      string    `json:"citdl,omitempty"`
	Attributes string    `json:"attributes,omitempty"`
	Children   []CLINode `json:"children,omitempty"`
}

// CLIScanReport summarizes an index run.
type CLIScanReport struct {
	Root   string   `json:"root"`
	Files  int      `json:"files"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

// CLIStats reports scan database activity.
type CLIStats struct {
	Blobs      int            `json:"blobs"`
	Bytes      int64          `json:"bytes"`
	ByLanguage map[string]int `json:"by_language"`
	Hits       int64          `json:"hits"`
	Misses     int64          `json:"misses"`
	Scans      int64          `json:"scans"`
	Evictions  int64          `json:"evictions"`
	Pending    int            `json:"pending"`
}
