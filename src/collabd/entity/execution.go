package entity

// RuntimeProfile describes how a supported language is executed inside the
// sandbox. Command is a shell expression run in the workspace directory and
// may encode a compile-then-run pipeline.
type RuntimeProfile struct {
	Language            string            `yaml:"language"`
	Image               string            `yaml:"image"`
	Extension           string            `yaml:"extension"`
	Command             string            `yaml:"command"`
	RequiresCompilation bool              `yaml:"requiresCompilation"`
	TimeoutMs           int64             `yaml:"timeoutMs"`
	SetupFiles          map[string]string `yaml:"setupFiles"`
	Template            string            `yaml:"template"`
}

// LanguageInfo is the catalog entry advertised to clients.
type LanguageInfo struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Extension           string `json:"extension"`
	RequiresCompilation bool   `json:"requiresCompilation"`
}

// ExecutionRequest carries one snapshot of a room's buffer to the sandbox.
// TimeoutMs overrides the profile and component defaults when positive.
type ExecutionRequest struct {
	Code        string
	Language    string
	RoomID      string
	RequesterID string
	TimeoutMs   int64
}

// ExecutionResult is produced for every request, including sandbox-internal
// failures and timeouts. Compiler and interpreter errors from the user's own
// code are ordinary stderr content in a successful result.
type ExecutionResult struct {
	Success   bool
	Output    string
	Error     string
	ExitCode  int
	ElapsedMs int64
	Language  string
	RoomID    string
}
