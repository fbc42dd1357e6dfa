// Package store implements the durable, concurrent-safe persistence layer
// for messages and agents: the two relations (messages, agents), their
// required indexes, and the operation contract the mailbox kernel drives.
//
// Two concrete backends satisfy the Store interface: SQLStore (gorm over
// modernc.org/sqlite, the default) and MemoryStore (in-process maps, used
// for fast kernel/dispatcher tests). Both honor the same ordering, search,
// and authorization semantics so the kernel never needs to know which one
// it is talking to.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Store implementations. The kernel wraps these
// into its own closed error-kind taxonomy; callers outside this package
// should not branch on these directly.
var (
	ErrNotFound       = errors.New("store: not found")
	ErrStorageFailure = errors.New("store: storage failure")
)

// Priority is the total order urgent > high > normal > low.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// rank returns the sort weight of a priority; higher sorts first.
func (p Priority) rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	default:
		return -1
	}
}

// Valid reports whether p is one of the four declared priorities.
func (p Priority) Valid() bool {
	return p.rank() >= 0
}

// Message is the immutable envelope with mutable read/archived flags
// described in the data model. Every field except Read and Archived is
// write-once from the moment PutMessage durably returns.
type Message struct {
	ID        string `gorm:"primaryKey;size:36"`
	Sender    string `gorm:"size:64;index"`
	Recipient string `gorm:"size:64;index;index:idx_recipient_read,priority:1"`
	Subject   string
	Body      string
	Priority  Priority  `gorm:"size:16;index"`
	Tags      Tags      `gorm:"type:text"`
	ReplyTo   *string   `gorm:"size:36"`
	ThreadID  string    `gorm:"size:36;index"`
	Timestamp time.Time `gorm:"index"`
	Read      bool      `gorm:"index:idx_recipient_read,priority:2"`
	Archived  bool
}

// TableName pins the GORM table name independent of struct renames.
func (Message) TableName() string { return "messages" }

// Agent is the presence record keyed by (name, machine_id).
type Agent struct {
	Name        string    `gorm:"primaryKey;size:64"`
	MachineID   string    `gorm:"primaryKey;size:64"`
	LastSeen    time.Time `gorm:"index"`
	ProcessInfo string
}

func (Agent) TableName() string { return "agents" }

// Status derives the presence column from LastSeen; it is never trusted
// from storage, only computed fresh on read (spec: presence §4.2).
func (a Agent) Status(now time.Time, onlineWindow time.Duration) string {
	if now.Sub(a.LastSeen) <= onlineWindow {
		return "online"
	}
	return "offline"
}

// InboxFilter narrows ListInbox.
type InboxFilter struct {
	UnreadOnly bool
	PriorityEq Priority // empty = no filter
	DaysBack   int
	Limit      int
}

// SearchFilter narrows Search.
type SearchFilter struct {
	Query      string
	SenderEq   string
	PriorityEq Priority
	DaysBack   int
	Limit      int
}

// Stats mirrors the counts defined in the store contract.
type Stats struct {
	TotalInbox              int
	UnreadInbox             int
	UnreadUrgent            int
	AgentsTotal             int
	DistinctThreadsForAgent int
	ByPriority              map[Priority]int
}

// Store is the contract every backend implements. All operations are
// synchronous from the caller's point of view; implementations internally
// serialize enough writes to preserve the invariants in spec §3/§5.
type Store interface {
	// PutMessage durably persists m. Durable-before-return (append-then-ack).
	PutMessage(ctx context.Context, m Message) error

	// GetMessage returns m if it exists and viewer is its sender or
	// recipient; otherwise ErrNotFound (collapsing absence and invisibility,
	// see kernel's no-existence-oracle guarantee).
	GetMessage(ctx context.Context, id, viewer string) (Message, error)

	// MessageExists reports whether id exists at all, independent of
	// viewer. Used only where the kernel must distinguish "absent" from
	// "exists but not visible to caller" (spec §7 NotAuthorized vs.
	// ReplyTargetNotFound) — never exposed through a tool response, so it
	// does not reopen the no-existence-oracle guarantee GetMessage upholds.
	MessageExists(ctx context.Context, id string) (bool, error)

	// ListInbox returns recipient's non-archived messages matching filter,
	// ordered by (priority DESC, timestamp DESC, id ASC).
	ListInbox(ctx context.Context, recipient string, filter InboxFilter) ([]Message, error)

	// Search returns non-archived messages where participant is sender or
	// recipient and the substring filter matches, ordered by timestamp DESC.
	Search(ctx context.Context, participant string, filter SearchFilter) ([]Message, error)

	// GetThread returns all messages sharing threadID where participant is
	// sender or recipient, ordered by timestamp ASC. The store returns an
	// empty, non-error slice when nothing matches; the kernel applies the
	// NotFound mapping on an empty result.
	GetThread(ctx context.Context, threadID, participant string) ([]Message, error)

	// MarkRead transitions read=false->true for every id in ids owned by
	// recipient. Returns the count actually transitioned; not atomic as a
	// set (spec §5).
	MarkRead(ctx context.Context, ids []string, recipient string) (int, error)

	// SetArchived transitions archived=false->true for id if owned by
	// recipient. Returns 1 if a row transitioned, 0 otherwise (including
	// when already archived, to keep the call idempotent).
	SetArchived(ctx context.Context, id, recipient string) (int, error)

	// Delete permanently removes id if owned by recipient.
	Delete(ctx context.Context, id, recipient string) (int, error)

	// UpsertAgent inserts or updates the (name, machine_id) row.
	UpsertAgent(ctx context.Context, a Agent) error

	// FindAgent returns the agent row or ErrNotFound.
	FindAgent(ctx context.Context, name, machineID string) (Agent, error)

	// ListAgents returns agents ordered by last_seen DESC. If onlyRecent
	// is non-zero, only rows with last_seen within that window are
	// returned.
	ListAgents(ctx context.Context, onlyRecent time.Duration) ([]Agent, error)

	// GetStats computes the counts in Stats for forAgent.
	GetStats(ctx context.Context, forAgent string) (Stats, error)

	// Cleanup permanently removes archived messages older than olderThan,
	// an administrator-invoked maintenance operation (never run
	// automatically; see CLI --cleanup).
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases underlying resources.
	Close() error
}
