package dispatcher

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/agentmaild/agentmaild/internal/store"
)

// Envelope is the JSON-RPC 2.0 request/response wrapper the transport
// carries, generalized from the teacher's MCPMessage to the ten mailbox
// tool calls.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError mirrors the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC 2.0 error codes, reused from the teacher's MCP
// implementation.
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603
)

func newResult(id any, result any) *Envelope {
	return &Envelope{JSONRPC: "2.0", ID: id, Result: result}
}

func newError(id any, code int, message string, data any) *Envelope {
	return &Envelope{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message, Data: data}}
}

// strictUnmarshal decodes params into dst, rejecting unknown top-level
// fields (spec §4.4: "unknown fields are rejected").
func strictUnmarshal(params json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

// --- tool argument schemas (spec §6) ---

// SendMailArgs is send_mail's argument schema.
type SendMailArgs struct {
	Recipient string         `json:"recipient"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	Priority  store.Priority `json:"priority,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	ReplyTo   string         `json:"reply_to,omitempty"`
}

// Validate checks required fields and enum membership; numeric/grammar
// bounds beyond presence are the kernel's responsibility since they need
// store state (e.g. recipient existence).
func (a *SendMailArgs) Validate() *FieldError {
	if a.Recipient == "" {
		return &FieldError{Field: "recipient", Reason: "recipient is required"}
	}
	if a.Subject == "" {
		return &FieldError{Field: "subject", Reason: "subject is required"}
	}
	if a.Body == "" {
		return &FieldError{Field: "body", Reason: "body is required"}
	}
	if a.Priority != "" && !a.Priority.Valid() {
		return &FieldError{Field: "priority", Reason: "must be one of urgent, high, normal, low"}
	}
	return nil
}

// CheckMailArgs is check_mail's argument schema.
type CheckMailArgs struct {
	UnreadOnly     *bool          `json:"unread_only,omitempty"`
	Limit          int            `json:"limit,omitempty"`
	PriorityFilter store.Priority `json:"priority_filter,omitempty"`
	DaysBack       int            `json:"days_back,omitempty"`
}

func (a *CheckMailArgs) Validate() *FieldError {
	if a.Limit != 0 && (a.Limit < 1 || a.Limit > 100) {
		return &FieldError{Field: "limit", Reason: "must be between 1 and 100"}
	}
	if a.PriorityFilter != "" && !a.PriorityFilter.Valid() {
		return &FieldError{Field: "priority_filter", Reason: "invalid priority"}
	}
	return nil
}

// ReadMessageArgs is read_message's argument schema.
type ReadMessageArgs struct {
	MessageID string `json:"message_id"`
}

func (a *ReadMessageArgs) Validate() *FieldError {
	if a.MessageID == "" {
		return &FieldError{Field: "message_id", Reason: "message_id is required"}
	}
	return nil
}

// SearchMessagesArgs is search_messages's argument schema.
type SearchMessagesArgs struct {
	Query    string         `json:"query"`
	DaysBack int            `json:"days_back,omitempty"`
	Sender   string         `json:"sender,omitempty"`
	Priority store.Priority `json:"priority,omitempty"`
	Limit    int            `json:"limit,omitempty"`
}

func (a *SearchMessagesArgs) Validate() *FieldError {
	if a.Query == "" {
		return &FieldError{Field: "query", Reason: "query is required"}
	}
	if a.Limit != 0 && (a.Limit < 1 || a.Limit > 100) {
		return &FieldError{Field: "limit", Reason: "must be between 1 and 100"}
	}
	if a.DaysBack != 0 && (a.DaysBack < 1 || a.DaysBack > 365) {
		return &FieldError{Field: "days_back", Reason: "must be between 1 and 365"}
	}
	if a.Priority != "" && !a.Priority.Valid() {
		return &FieldError{Field: "priority", Reason: "invalid priority"}
	}
	return nil
}

// ListAgentsArgs is list_agents's argument schema.
type ListAgentsArgs struct {
	ActiveOnly bool `json:"active_only,omitempty"`
}

func (a *ListAgentsArgs) Validate() *FieldError { return nil }

// MarkReadArgs is mark_read's argument schema.
type MarkReadArgs struct {
	MessageIDs []string `json:"message_ids"`
}

func (a *MarkReadArgs) Validate() *FieldError {
	if len(a.MessageIDs) == 0 {
		return &FieldError{Field: "message_ids", Reason: "message_ids must be non-empty"}
	}
	return nil
}

// ArchiveMessageArgs is archive_message's argument schema.
type ArchiveMessageArgs struct {
	MessageID string `json:"message_id"`
}

func (a *ArchiveMessageArgs) Validate() *FieldError {
	if a.MessageID == "" {
		return &FieldError{Field: "message_id", Reason: "message_id is required"}
	}
	return nil
}

// GetThreadArgs is get_thread's argument schema.
type GetThreadArgs struct {
	ThreadID string `json:"thread_id"`
}

func (a *GetThreadArgs) Validate() *FieldError {
	if a.ThreadID == "" {
		return &FieldError{Field: "thread_id", Reason: "thread_id is required"}
	}
	return nil
}

// GetMailboxStatsArgs is get_mailbox_stats's (empty) argument schema.
type GetMailboxStatsArgs struct{}

func (a *GetMailboxStatsArgs) Validate() *FieldError { return nil }

// DeleteMessageArgs is delete_message's argument schema.
type DeleteMessageArgs struct {
	MessageID string `json:"message_id"`
}

func (a *DeleteMessageArgs) Validate() *FieldError {
	if a.MessageID == "" {
		return &FieldError{Field: "message_id", Reason: "message_id is required"}
	}
	return nil
}

// FieldError names the offending field for an InvalidArgument response
// (spec §4.4 point 1).
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Reason }
