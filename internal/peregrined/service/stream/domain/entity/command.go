package entity

// WorkerCommandType identifies a command written to a worker's stdin.
type WorkerCommandType string

const (
	// WorkerCommandTurn starts a user turn.
	WorkerCommandTurn WorkerCommandType = "turn"

	// WorkerCommandPermission answers a pending permission_request.
	WorkerCommandPermission WorkerCommandType = "permission_response"

	// WorkerCommandAbort requests cooperative cancellation of the in-flight
	// turn. Advisory: the worker may take time to wind down.
	WorkerCommandAbort WorkerCommandType = "abort"
)

// WorkerCommand is one newline-delimited JSON record written to the worker.
type WorkerCommand struct {
	Type           WorkerCommandType `json:"type"`
	ConversationID string            `json:"conversation_id"`

	// Prompt is the user input for turn commands.
	Prompt string `json:"prompt,omitempty"`

	// RequestID/Approved/ApproveAll answer a permission request.
	RequestID  string `json:"request_id,omitempty"`
	Approved   bool   `json:"approved,omitempty"`
	ApproveAll bool   `json:"approve_all,omitempty"`
}

// ClientCommandType identifies an inbound command on the client connection.
type ClientCommandType string

const (
	// ClientCommandQuery starts a turn (spawning a worker if needed) and
	// attaches the sending connection.
	ClientCommandQuery ClientCommandType = "query"

	// ClientCommandAttach rebinds a connection to a conversation after a
	// reload, triggering the resynchronization handshake.
	ClientCommandAttach ClientCommandType = "attach"

	// ClientCommandAbort cancels the in-flight turn.
	ClientCommandAbort ClientCommandType = "abort"

	// ClientCommandPermissionResponse answers a pending permission request.
	ClientCommandPermissionResponse ClientCommandType = "permission_response"
)

// ClientCommand is the small inbound command set carried over the persistent
// client connection.
type ClientCommand struct {
	Type           ClientCommandType `json:"type"`
	ConversationID string            `json:"conversation_id,omitempty"`

	// Prompt is the user input for query commands.
	Prompt string `json:"prompt,omitempty"`

	RequestID  string `json:"request_id,omitempty"`
	Approved   bool   `json:"approved,omitempty"`
	ApproveAll bool   `json:"approve_all,omitempty"`
}
