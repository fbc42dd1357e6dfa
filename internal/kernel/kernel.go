// Package kernel implements the ten mailbox operations (send_mail,
// check_mail, read_message, search_messages, list_agents, mark_read,
// archive_message, get_thread, get_mailbox_stats, delete_message) plus the
// administrative Cleanup sweep, against a store.Store. The kernel is
// reentrant; all serialization correctness comes from the Store (spec §5).
package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentmaild/agentmaild/internal/metrics"
	"github.com/agentmaild/agentmaild/internal/store"
)

// Kind is the closed error taxonomy of spec §7. Callers branch on Kind,
// never on error strings.
type Kind string

const (
	KindInvalidArgument    Kind = "invalid_argument"
	KindRecipientNotFound  Kind = "recipient_not_found"
	KindReplyTargetNotFound Kind = "reply_target_not_found"
	KindNotAuthorized      Kind = "not_authorized"
	KindNotFound           Kind = "not_found"
	KindStorageFailure     Kind = "storage_failure"
)

// Error is the kernel's wrapped error type: a Kind plus an optional
// offending field name (for InvalidArgument) and the underlying cause.
type Error struct {
	Kind  Kind
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Field, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, field string, err error) *Error {
	return &Error{Kind: kind, Field: field, Err: err}
}

func invalidArg(field string, reason string) *Error {
	return newErr(KindInvalidArgument, field, fmt.Errorf("%s", reason))
}

func storageFailure(err error) *Error {
	return newErr(KindStorageFailure, "", err)
}

// Context is the explicit per-call kernel context: store handle, resolved
// caller identity, host machine id, and a scoped logger. There is no
// global singleton (spec §9's "Global singletons map to an explicit kernel
// context value").
type Context struct {
	Store     store.Store
	Self      string
	MachineID string
	Logger    *zap.Logger

	// Metrics is optional; nil disables recording.
	Metrics *metrics.Collector
}

func (c *Context) log(op string) *zap.Logger {
	return c.Logger.With(zap.String("op", op), zap.String("caller", c.Self))
}

// SendMailResult is send_mail's result (spec §4.3).
type SendMailResult struct {
	ID        string
	Recipient string
	Subject   string
	Priority  store.Priority
}

// SendMail allocates a new message from self to recipient.
func (c *Context) SendMail(ctx context.Context, recipient, subject, body string, priority store.Priority, tags []string, replyTo string) (SendMailResult, error) {
	logger := c.log("send_mail")

	if recipient == "" {
		return SendMailResult{}, invalidArg("recipient", "recipient is required")
	}
	if subject == "" {
		return SendMailResult{}, invalidArg("subject", "subject is required")
	}
	if body == "" {
		return SendMailResult{}, invalidArg("body", "body is required")
	}
	if priority == "" {
		priority = store.PriorityNormal
	}
	if !priority.Valid() {
		return SendMailResult{}, invalidArg("priority", "priority must be one of urgent, high, normal, low")
	}

	normTags, err := store.NormalizeTags(tags)
	if err != nil {
		return SendMailResult{}, invalidArg("tags", err.Error())
	}

	if _, err := c.Store.FindAgent(ctx, recipient, c.MachineID); err != nil {
		if err == store.ErrNotFound {
			return SendMailResult{}, newErr(KindRecipientNotFound, "recipient", err)
		}
		return SendMailResult{}, storageFailure(err)
	}

	threadID := uuid.NewString()
	var replyPtr *string
	if replyTo != "" {
		target, err := c.Store.GetMessage(ctx, replyTo, c.Self)
		if err != nil {
			if err != store.ErrNotFound {
				return SendMailResult{}, storageFailure(err)
			}
			// GetMessage collapses "absent" and "exists but not visible to
			// caller" into the same ErrNotFound (P10). Distinguish them here
			// with an unfiltered existence check so the two spec §7 kinds
			// stay genuinely reachable.
			exists, eerr := c.Store.MessageExists(ctx, replyTo)
			if eerr != nil {
				return SendMailResult{}, storageFailure(eerr)
			}
			if exists {
				return SendMailResult{}, newErr(KindNotAuthorized, "reply_to", fmt.Errorf("reply target not visible to caller"))
			}
			return SendMailResult{}, newErr(KindReplyTargetNotFound, "reply_to", err)
		}
		threadID = target.ThreadID
		r := replyTo
		replyPtr = &r
	}

	m := store.Message{
		ID:        uuid.NewString(),
		Sender:    c.Self,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		Priority:  priority,
		Tags:      normTags,
		ReplyTo:   replyPtr,
		ThreadID:  threadID,
		Timestamp: time.Now().UTC(),
	}

	putStart := time.Now()
	err = c.Store.PutMessage(ctx, m)
	if c.Metrics != nil {
		c.Metrics.RecordStoreQuery("put_message", time.Since(putStart))
	}
	if err != nil {
		return SendMailResult{}, storageFailure(err)
	}
	if c.Metrics != nil {
		c.Metrics.RecordMessageSent(string(priority))
	}

	logger.Info("message sent", zap.String("recipient", recipient), zap.String("priority", string(priority)))
	return SendMailResult{ID: m.ID, Recipient: recipient, Subject: subject, Priority: priority}, nil
}

// CheckMailArgs narrows check_mail. Zero values mean "use the spec default"
// at the dispatcher layer; the kernel expects already-defaulted values.
type CheckMailArgs struct {
	UnreadOnly     bool
	Limit          int
	PriorityFilter store.Priority
	DaysBack       int
}

// CheckMail lists self's inbox per args.
func (c *Context) CheckMail(ctx context.Context, args CheckMailArgs) ([]store.Message, error) {
	if args.Limit < 1 || args.Limit > 100 {
		return nil, invalidArg("limit", "limit must be between 1 and 100")
	}
	if args.PriorityFilter != "" && !args.PriorityFilter.Valid() {
		return nil, invalidArg("priority_filter", "invalid priority")
	}

	msgs, err := c.Store.ListInbox(ctx, c.Self, store.InboxFilter{
		UnreadOnly: args.UnreadOnly,
		PriorityEq: args.PriorityFilter,
		DaysBack:   args.DaysBack,
		Limit:      args.Limit,
	})
	if err != nil {
		return nil, storageFailure(err)
	}
	return msgs, nil
}

// ReadMessage transitions read=true for id if owned by self and returns
// the full message. Absence and "not yours" are both NotFound (P10).
func (c *Context) ReadMessage(ctx context.Context, id string) (store.Message, error) {
	logger := c.log("read_message")

	m, err := c.Store.GetMessage(ctx, id, c.Self)
	if err != nil || m.Recipient != c.Self {
		if err == nil {
			err = store.ErrNotFound
		}
		if err == store.ErrNotFound {
			return store.Message{}, newErr(KindNotFound, "", err)
		}
		return store.Message{}, storageFailure(err)
	}

	n, err := c.Store.MarkRead(ctx, []string{id}, c.Self)
	if err != nil {
		return store.Message{}, storageFailure(err)
	}
	if c.Metrics != nil && n > 0 {
		c.Metrics.RecordMessageRead(n)
	}

	m, err = c.Store.GetMessage(ctx, id, c.Self)
	if err != nil {
		return store.Message{}, storageFailure(err)
	}
	logger.Info("message read")
	return m, nil
}

// SearchMessagesArgs narrows search_messages.
type SearchMessagesArgs struct {
	Query    string
	DaysBack int
	Sender   string
	Priority store.Priority
	Limit    int
}

// SearchMessages returns messages visible to self matching args (P7).
func (c *Context) SearchMessages(ctx context.Context, args SearchMessagesArgs) ([]store.Message, error) {
	if args.Query == "" {
		return nil, invalidArg("query", "query is required")
	}
	if args.Limit < 1 || args.Limit > 100 {
		return nil, invalidArg("limit", "limit must be between 1 and 100")
	}
	if args.DaysBack < 1 || args.DaysBack > 365 {
		return nil, invalidArg("days_back", "days_back must be between 1 and 365")
	}
	if args.Priority != "" && !args.Priority.Valid() {
		return nil, invalidArg("priority", "invalid priority")
	}

	msgs, err := c.Store.Search(ctx, c.Self, store.SearchFilter{
		Query:      args.Query,
		SenderEq:   args.Sender,
		PriorityEq: args.Priority,
		DaysBack:   args.DaysBack,
		Limit:      args.Limit,
	})
	if err != nil {
		return nil, storageFailure(err)
	}
	return msgs, nil
}

// ListAgents lists registered agents, optionally restricted to those seen
// in the last hour ("active").
func (c *Context) ListAgents(ctx context.Context, activeOnly bool) ([]store.Agent, error) {
	var window time.Duration
	if activeOnly {
		window = time.Hour
	}
	agents, err := c.Store.ListAgents(ctx, window)
	if err != nil {
		return nil, storageFailure(err)
	}
	return agents, nil
}

// MarkRead transitions read=true for every id owned by self. Not atomic as
// a set; returns the count actually transitioned.
func (c *Context) MarkRead(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, invalidArg("message_ids", "message_ids must be non-empty")
	}
	n, err := c.Store.MarkRead(ctx, ids, c.Self)
	if err != nil {
		return 0, storageFailure(err)
	}
	if c.Metrics != nil && n > 0 {
		c.Metrics.RecordMessageRead(n)
	}
	return n, nil
}

// ArchiveMessage archives id if owned by self.
func (c *Context) ArchiveMessage(ctx context.Context, id string) error {
	n, err := c.Store.SetArchived(ctx, id, c.Self)
	if err != nil {
		return storageFailure(err)
	}
	if n == 0 {
		// Distinguish "already archived" (exists, owned, idempotent no-op)
		// from "missing or not yours" (NotFound) by checking visibility.
		m, gerr := c.Store.GetMessage(ctx, id, c.Self)
		if gerr != nil || m.Recipient != c.Self {
			return newErr(KindNotFound, "", store.ErrNotFound)
		}
	}
	return nil
}

// GetThread returns thread_id's messages visible to self, ordered by
// timestamp ASC; empty result is NotFound.
func (c *Context) GetThread(ctx context.Context, threadID string) ([]store.Message, error) {
	msgs, err := c.Store.GetThread(ctx, threadID, c.Self)
	if err != nil {
		return nil, storageFailure(err)
	}
	if len(msgs) == 0 {
		return nil, newErr(KindNotFound, "", store.ErrNotFound)
	}
	return msgs, nil
}

// GetMailboxStats returns self's mailbox counts.
func (c *Context) GetMailboxStats(ctx context.Context) (store.Stats, error) {
	stats, err := c.Store.GetStats(ctx, c.Self)
	if err != nil {
		return store.Stats{}, storageFailure(err)
	}
	return stats, nil
}

// DeleteMessage permanently removes id if owned by self.
func (c *Context) DeleteMessage(ctx context.Context, id string) error {
	n, err := c.Store.Delete(ctx, id, c.Self)
	if err != nil {
		return storageFailure(err)
	}
	if n == 0 {
		return newErr(KindNotFound, "", store.ErrNotFound)
	}
	return nil
}

// Cleanup permanently purges archived messages older than olderThan. An
// administrator-invoked maintenance sweep (CLI --cleanup), never run
// automatically — the spec's "no automatic message expiry" non-goal binds
// unattended behavior, not an explicit operator action.
func (c *Context) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	n, err := c.Store.Cleanup(ctx, olderThan)
	if err != nil {
		return 0, storageFailure(err)
	}
	return n, nil
}
