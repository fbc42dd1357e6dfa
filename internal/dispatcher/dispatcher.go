// Package dispatcher is the tool dispatcher of spec §4.4: a single entry
// point accepting (tool_name, arguments) that validates the schema, takes
// self from Identity (never from the request), routes 1:1 to a kernel
// operation, and shapes the result or error into a transport-neutral form.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentmaild/agentmaild/internal/kernel"
	"github.com/agentmaild/agentmaild/internal/metrics"
	"github.com/agentmaild/agentmaild/internal/store"
)

// ToolResult is the transport-neutral result form (spec §4.4 point 4):
// messages serialize as the record in spec §3 (tags as a list, timestamp
// ISO-8601, booleans as booleans). Presentation is attached, never
// substituted, by the transport layer.
type ToolResult struct {
	Data any `json:"data"`
}

// Dispatcher routes named tool calls to kernel operations.
type Dispatcher struct {
	kernel  *kernel.Context
	metrics *metrics.Collector
	logger  *zap.Logger
}

// New builds a Dispatcher bound to a resolved kernel context. m may be nil,
// in which case no metrics are recorded.
func New(k *kernel.Context, m *metrics.Collector, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{kernel: k, metrics: m, logger: logger.With(zap.String("component", "dispatcher"))}
}

// Call validates, routes, and executes the named tool against rawParams
// (a JSON object). It never leaks raw storage errors (spec §4.4 point 5),
// and records the method/kind/duration triad for every call regardless of
// outcome, since this is the single choke point every tool routes through.
func (d *Dispatcher) Call(ctx context.Context, method string, rawParams json.RawMessage) (any, *RPCError) {
	start := time.Now()
	result, rerr := d.dispatch(ctx, method, rawParams)
	if d.metrics != nil {
		d.metrics.RecordToolCall(method, outcomeKind(rerr), time.Since(start))
	}
	return result, rerr
}

func (d *Dispatcher) dispatch(ctx context.Context, method string, rawParams json.RawMessage) (any, *RPCError) {
	handler, ok := handlers[method]
	if !ok {
		return nil, &RPCError{Code: ErrorCodeMethodNotFound, Message: fmt.Sprintf("unknown tool %q", method)}
	}

	result, err := handler(ctx, d.kernel, rawParams)
	if err == nil {
		return result, nil
	}

	var fe *FieldError
	if errors.As(err, &fe) {
		return nil, &RPCError{Code: ErrorCodeInvalidParams, Message: fe.Reason, Data: map[string]string{"field": fe.Field}}
	}

	var kerr *kernel.Error
	if errors.As(err, &kerr) {
		return nil, shapeKernelError(kerr)
	}

	d.logger.Error("unshaped error from handler", zap.Error(err))
	return nil, &RPCError{Code: ErrorCodeInternalError, Message: "internal error"}
}

// outcomeKind derives the tool_calls_total "kind" label: the shaped
// kernel.Kind when present, a fixed label for the three dispatcher-level
// failure modes (unknown method, argument error, unshaped internal error),
// "ok" otherwise.
func outcomeKind(rerr *RPCError) string {
	if rerr == nil {
		return "ok"
	}
	if data, ok := rerr.Data.(map[string]string); ok {
		if kind, ok := data["kind"]; ok {
			return kind
		}
	}
	switch rerr.Code {
	case ErrorCodeMethodNotFound:
		return "method_not_found"
	case ErrorCodeInvalidParams:
		return string(kernel.KindInvalidArgument)
	default:
		return "internal_error"
	}
}

func shapeKernelError(kerr *kernel.Error) *RPCError {
	data := map[string]string{"kind": string(kerr.Kind)}
	if kerr.Field != "" {
		data["field"] = kerr.Field
	}
	switch kerr.Kind {
	case kernel.KindInvalidArgument:
		return &RPCError{Code: ErrorCodeInvalidParams, Message: kerr.Error(), Data: data}
	case kernel.KindStorageFailure:
		return &RPCError{Code: ErrorCodeInternalError, Message: "storage failure", Data: data}
	default:
		return &RPCError{Code: ErrorCodeInvalidParams, Message: string(kerr.Kind), Data: data}
	}
}

type handlerFunc func(ctx context.Context, k *kernel.Context, params json.RawMessage) (any, error)

// handlers is the method-name -> kernel-operation routing table (spec
// §4.4 point 3: "names map 1:1 to kernel operations").
var handlers = map[string]handlerFunc{
	"send_mail":          handleSendMail,
	"check_mail":         handleCheckMail,
	"read_message":        handleReadMessage,
	"search_messages":    handleSearchMessages,
	"list_agents":        handleListAgents,
	"mark_read":          handleMarkRead,
	"archive_message":    handleArchiveMessage,
	"get_thread":         handleGetThread,
	"get_mailbox_stats":  handleGetMailboxStats,
	"delete_message":     handleDeleteMessage,
}

func decodeAndValidate[T interface{ Validate() *FieldError }](params json.RawMessage, args T) error {
	if len(params) > 0 {
		if err := strictUnmarshal(params, args); err != nil {
			return &FieldError{Field: "", Reason: err.Error()}
		}
	}
	if fe := args.Validate(); fe != nil {
		return fe
	}
	return nil
}

func handleSendMail(ctx context.Context, k *kernel.Context, params json.RawMessage) (any, error) {
	args := &SendMailArgs{Priority: store.PriorityNormal}
	if err := decodeAndValidate(params, args); err != nil {
		return nil, err
	}
	res, err := k.SendMail(ctx, args.Recipient, args.Subject, args.Body, args.Priority, args.Tags, args.ReplyTo)
	if err != nil {
		return nil, err
	}
	return ToolResult{Data: res}, nil
}

func handleCheckMail(ctx context.Context, k *kernel.Context, params json.RawMessage) (any, error) {
	args := &CheckMailArgs{Limit: 10, DaysBack: 7}
	if err := decodeAndValidate(params, args); err != nil {
		return nil, err
	}
	unreadOnly := true
	if args.UnreadOnly != nil {
		unreadOnly = *args.UnreadOnly
	}
	msgs, err := k.CheckMail(ctx, kernel.CheckMailArgs{
		UnreadOnly:     unreadOnly,
		Limit:          args.Limit,
		PriorityFilter: args.PriorityFilter,
		DaysBack:       args.DaysBack,
	})
	if err != nil {
		return nil, err
	}
	return ToolResult{Data: msgs}, nil
}

func handleReadMessage(ctx context.Context, k *kernel.Context, params json.RawMessage) (any, error) {
	args := &ReadMessageArgs{}
	if err := decodeAndValidate(params, args); err != nil {
		return nil, err
	}
	m, err := k.ReadMessage(ctx, args.MessageID)
	if err != nil {
		return nil, err
	}
	return ToolResult{Data: m}, nil
}

func handleSearchMessages(ctx context.Context, k *kernel.Context, params json.RawMessage) (any, error) {
	args := &SearchMessagesArgs{DaysBack: 30, Limit: 20}
	if err := decodeAndValidate(params, args); err != nil {
		return nil, err
	}
	msgs, err := k.SearchMessages(ctx, kernel.SearchMessagesArgs{
		Query:    args.Query,
		DaysBack: args.DaysBack,
		Sender:   args.Sender,
		Priority: args.Priority,
		Limit:    args.Limit,
	})
	if err != nil {
		return nil, err
	}
	return ToolResult{Data: msgs}, nil
}

func handleListAgents(ctx context.Context, k *kernel.Context, params json.RawMessage) (any, error) {
	args := &ListAgentsArgs{}
	if err := decodeAndValidate(params, args); err != nil {
		return nil, err
	}
	agents, err := k.ListAgents(ctx, args.ActiveOnly)
	if err != nil {
		return nil, err
	}
	return ToolResult{Data: agents}, nil
}

func handleMarkRead(ctx context.Context, k *kernel.Context, params json.RawMessage) (any, error) {
	args := &MarkReadArgs{}
	if err := decodeAndValidate(params, args); err != nil {
		return nil, err
	}
	n, err := k.MarkRead(ctx, args.MessageIDs)
	if err != nil {
		return nil, err
	}
	return ToolResult{Data: map[string]int{"count": n}}, nil
}

func handleArchiveMessage(ctx context.Context, k *kernel.Context, params json.RawMessage) (any, error) {
	args := &ArchiveMessageArgs{}
	if err := decodeAndValidate(params, args); err != nil {
		return nil, err
	}
	if err := k.ArchiveMessage(ctx, args.MessageID); err != nil {
		return nil, err
	}
	return ToolResult{Data: map[string]bool{"archived": true}}, nil
}

func handleGetThread(ctx context.Context, k *kernel.Context, params json.RawMessage) (any, error) {
	args := &GetThreadArgs{}
	if err := decodeAndValidate(params, args); err != nil {
		return nil, err
	}
	msgs, err := k.GetThread(ctx, args.ThreadID)
	if err != nil {
		return nil, err
	}
	return ToolResult{Data: msgs}, nil
}

func handleGetMailboxStats(ctx context.Context, k *kernel.Context, params json.RawMessage) (any, error) {
	args := &GetMailboxStatsArgs{}
	if err := decodeAndValidate(params, args); err != nil {
		return nil, err
	}
	stats, err := k.GetMailboxStats(ctx)
	if err != nil {
		return nil, err
	}
	return ToolResult{Data: stats}, nil
}

func handleDeleteMessage(ctx context.Context, k *kernel.Context, params json.RawMessage) (any, error) {
	args := &DeleteMessageArgs{}
	if err := decodeAndValidate(params, args); err != nil {
		return nil, err
	}
	if err := k.DeleteMessage(ctx, args.MessageID); err != nil {
		return nil, err
	}
	return ToolResult{Data: map[string]bool{"deleted": true}}, nil
}
