package types

// Event represents a typed event emitted by an object during execution.
type Event struct {
	Emitter    NodeId            `json:"emitter"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// LogLevel is the severity of an application log line.
type LogLevel string

const (
	LogError LogLevel = "ERROR"
	LogWarn  LogLevel = "WARN"
	LogInfo  LogLevel = "INFO"
	LogDebug LogLevel = "DEBUG"
)

// LogEntry is a line logged by application code through the kernel.
type LogEntry struct {
	Level   LogLevel `json:"level"`
	Message string   `json:"message"`
}
