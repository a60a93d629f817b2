package opencode

// Session is one remote conversation with the coding agent. The server owns
// all session state; callers hold the identifier and re-fetch summaries.
type Session struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	Directory string         `json:"directory,omitempty"`
	Summary   SessionSummary `json:"summary"`
	Time      SessionTime    `json:"time"`
}

// SessionSummary carries the server-side bookkeeping of code changes.
// The Files count is the sole authoritative signal that work occurred.
type SessionSummary struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Files     int `json:"files"`
}

// SessionTime contains session timestamps in unix milliseconds.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// FileDiff describes one changed file as reported by the diff endpoint.
type FileDiff struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Status    string `json:"status,omitempty"`
}

// MessageResponse is one agent reply to a submitted prompt.
type MessageResponse struct {
	Info  MessageInfo   `json:"info"`
	Parts []MessagePart `json:"parts"`
}

// MessageInfo carries turn-level metadata.
type MessageInfo struct {
	ID     string `json:"id,omitempty"`
	Finish string `json:"finish,omitempty"`
}

// MessagePart is one ordered element of a reply: plain text or a tool
// invocation with captured state.
type MessagePart struct {
	ID    string         `json:"id,omitempty"`
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	Tool  string         `json:"tool,omitempty"`
	State *ToolPartState `json:"state,omitempty"`
}

// ToolPartState is the captured outcome of one tool invocation.
type ToolPartState struct {
	Status   string       `json:"status,omitempty"`
	Input    ToolInput    `json:"input,omitempty"`
	Output   string       `json:"output,omitempty"`
	Metadata ToolMetadata `json:"metadata,omitempty"`
}

// ToolInput holds the invocation parameters the interpreter cares about.
type ToolInput struct {
	FilePath string `json:"filePath,omitempty"`
	Command  string `json:"command,omitempty"`
}

// ToolMetadata holds machine-emitted invocation metadata. Exit is a pointer
// because absence means "no information", not success or failure.
type ToolMetadata struct {
	Exit *int `json:"exit,omitempty"`
}

// Part type discriminators used in message payloads.
const (
	PartTypeText = "text"
	PartTypeTool = "tool"
)
