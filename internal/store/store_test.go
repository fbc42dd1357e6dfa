package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// backends returns the set of Store implementations every contract test
// runs against, named for t.Run subtests.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	sql, err := OpenSQLStore(DefaultSQLStoreConfig(filepath.Join(t.TempDir(), "mailbox.db")), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sql.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sql":    sql,
	}
}

func TestStoreContract_PutAndGetMessage(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := newMessage("alice", "bob", "")
			require.NoError(t, s.PutMessage(ctx, m))

			got, err := s.GetMessage(ctx, m.ID, "bob")
			require.NoError(t, err)
			require.Equal(t, m.Subject, got.Subject)
			require.False(t, got.Read)

			_, err = s.GetMessage(ctx, m.ID, "carol")
			require.ErrorIs(t, err, ErrNotFound)

			_, err = s.GetMessage(ctx, "missing-id", "bob")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

// TestStoreContract_MessageExistsIgnoresViewer asserts MessageExists
// reports presence independent of the caller, unlike GetMessage — the
// kernel relies on this to distinguish "absent" from "exists but not
// visible to caller" for reply_to authorization.
func TestStoreContract_MessageExistsIgnoresViewer(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := newMessage("alice", "bob", "")
			require.NoError(t, s.PutMessage(ctx, m))

			exists, err := s.MessageExists(ctx, m.ID)
			require.NoError(t, err)
			require.True(t, exists)

			_, err = s.GetMessage(ctx, m.ID, "carol")
			require.ErrorIs(t, err, ErrNotFound)
			exists, err = s.MessageExists(ctx, m.ID)
			require.NoError(t, err)
			require.True(t, exists)

			exists, err = s.MessageExists(ctx, "missing-id")
			require.NoError(t, err)
			require.False(t, exists)
		})
	}
}

func TestStoreContract_ListInboxOrdering(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now().UTC()
			order := []Priority{PriorityNormal, PriorityUrgent, PriorityHigh, PriorityLow}
			for _, p := range order {
				m := newMessage("alice", "bob", "")
				m.Priority = p
				m.Timestamp = now
				require.NoError(t, s.PutMessage(ctx, m))
			}

			got, err := s.ListInbox(ctx, "bob", InboxFilter{DaysBack: 1, Limit: 10})
			require.NoError(t, err)
			require.Len(t, got, 4)
			require.Equal(t, []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}, []Priority{
				got[0].Priority, got[1].Priority, got[2].Priority, got[3].Priority,
			})
		})
	}
}

func TestStoreContract_MarkReadAffectsOnlyOwnInbox(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := newMessage("alice", "bob", "")
			require.NoError(t, s.PutMessage(ctx, m))

			n, err := s.MarkRead(ctx, []string{m.ID}, "carol")
			require.NoError(t, err)
			require.Equal(t, 0, n)

			n, err = s.MarkRead(ctx, []string{m.ID}, "bob")
			require.NoError(t, err)
			require.Equal(t, 1, n)

			got, err := s.GetMessage(ctx, m.ID, "bob")
			require.NoError(t, err)
			require.True(t, got.Read)
		})
	}
}

func TestStoreContract_ArchiveAndDeleteAuthorization(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := newMessage("alice", "bob", "")
			require.NoError(t, s.PutMessage(ctx, m))

			n, err := s.SetArchived(ctx, m.ID, "carol")
			require.NoError(t, err)
			require.Equal(t, 0, n)

			n, err = s.Delete(ctx, m.ID, "carol")
			require.NoError(t, err)
			require.Equal(t, 0, n)

			n, err = s.SetArchived(ctx, m.ID, "bob")
			require.NoError(t, err)
			require.Equal(t, 1, n)

			// Idempotent: archiving again reports 0 transitioned.
			n, err = s.SetArchived(ctx, m.ID, "bob")
			require.NoError(t, err)
			require.Equal(t, 0, n)

			n, err = s.Delete(ctx, m.ID, "bob")
			require.NoError(t, err)
			require.Equal(t, 1, n)
		})
	}
}

func TestStoreContract_ThreadOrdering(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m1 := newMessage("alice", "bob", "")
			m1.ThreadID = "thread-1"
			m1.Timestamp = time.Now().UTC().Add(-time.Minute)
			require.NoError(t, s.PutMessage(ctx, m1))

			reply := m1.ID
			m2 := newMessage("bob", "alice", "")
			m2.ThreadID = "thread-1"
			m2.ReplyTo = &reply
			m2.Timestamp = time.Now().UTC()
			require.NoError(t, s.PutMessage(ctx, m2))

			got, err := s.GetThread(ctx, "thread-1", "alice")
			require.NoError(t, err)
			require.Len(t, got, 2)
			require.Equal(t, m1.ID, got[0].ID)
			require.Equal(t, m2.ID, got[1].ID)

			empty, err := s.GetThread(ctx, "no-such-thread", "alice")
			require.NoError(t, err)
			require.Empty(t, empty)
		})
	}
}

func TestStoreContract_SearchSoundness(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			bodies := []string{"alpha", "ALPHA", "beta", "alphabet", "gamma"}
			for _, b := range bodies {
				m := newMessage("alice", "bob", b)
				require.NoError(t, s.PutMessage(ctx, m))
			}

			got, err := s.Search(ctx, "bob", SearchFilter{Query: "alpha", DaysBack: 30, Limit: 20})
			require.NoError(t, err)
			require.Len(t, got, 3)
			for _, m := range got {
				require.True(t, m.MatchesQuery("alpha"))
			}
		})
	}
}

func TestStoreContract_AgentUpsertAndFind(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a := Agent{Name: "agent-one", MachineID: "m1", LastSeen: time.Now().UTC()}
			require.NoError(t, s.UpsertAgent(ctx, a))

			got, err := s.FindAgent(ctx, "agent-one", "m1")
			require.NoError(t, err)
			require.Equal(t, a.Name, got.Name)

			_, err = s.FindAgent(ctx, "nobody", "m1")
			require.ErrorIs(t, err, ErrNotFound)

			a.LastSeen = time.Now().UTC().Add(time.Hour)
			require.NoError(t, s.UpsertAgent(ctx, a))
			agents, err := s.ListAgents(ctx, 0)
			require.NoError(t, err)
			require.Len(t, agents, 1)
		})
	}
}

func TestStoreContract_Stats(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.UpsertAgent(ctx, Agent{Name: "bob", MachineID: "m1", LastSeen: time.Now().UTC()}))
			urgent := newMessage("alice", "bob", "")
			urgent.Priority = PriorityUrgent
			require.NoError(t, s.PutMessage(ctx, urgent))

			stats, err := s.GetStats(ctx, "bob")
			require.NoError(t, err)
			require.Equal(t, 1, stats.TotalInbox)
			require.Equal(t, 1, stats.UnreadInbox)
			require.Equal(t, 1, stats.UnreadUrgent)
			require.Equal(t, 1, stats.ByPriority[PriorityUrgent])
		})
	}
}

func newMessage(sender, recipient, body string) Message {
	id := uuid.NewString()
	return Message{
		ID:        id,
		Sender:    sender,
		Recipient: recipient,
		Subject:   "subject",
		Body:      body,
		Priority:  PriorityNormal,
		ThreadID:  id,
		Timestamp: time.Now().UTC(),
	}
}

// --- property-based tests (P1, P2, P4, P7) ---

func TestProperty_EnvelopeImmutableExceptFlags(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := NewMemoryStore()
		ctx := context.Background()
		m := newMessage("alice", "bob", rapid.StringN(0, 40, 200).Draw(rt, "body"))
		require.NoError(rt, s.PutMessage(ctx, m))

		if rapid.Bool().Draw(rt, "markRead") {
			_, err := s.MarkRead(ctx, []string{m.ID}, "bob")
			require.NoError(rt, err)
		}
		if rapid.Bool().Draw(rt, "archive") {
			_, err := s.SetArchived(ctx, m.ID, "bob")
			require.NoError(rt, err)
		}

		got, err := s.GetMessage(ctx, m.ID, "bob")
		require.NoError(rt, err)
		require.Equal(rt, m.Sender, got.Sender)
		require.Equal(rt, m.Recipient, got.Recipient)
		require.Equal(rt, m.Subject, got.Subject)
		require.Equal(rt, m.Body, got.Body)
		require.Equal(rt, m.Priority, got.Priority)
		require.Equal(rt, m.ThreadID, got.ThreadID)
	})
}

func TestProperty_FlagsMonotone(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := NewMemoryStore()
		ctx := context.Background()
		m := newMessage("alice", "bob", "body")
		require.NoError(rt, s.PutMessage(ctx, m))

		steps := rapid.IntRange(1, 5).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(rt, fmt.Sprintf("read-%d", i)) {
				_, _ = s.MarkRead(ctx, []string{m.ID}, "bob")
			}
			if rapid.Bool().Draw(rt, fmt.Sprintf("archive-%d", i)) {
				_, _ = s.SetArchived(ctx, m.ID, "bob")
			}
		}
		// Once set, never unset: verify by re-running a no-op mark/archive
		// and confirming flags remain true if they were ever set.
		got, err := s.GetMessage(ctx, m.ID, "bob")
		require.NoError(rt, err)
		if got.Read {
			_, _ = s.MarkRead(ctx, []string{m.ID}, "bob")
			after, _ := s.GetMessage(ctx, m.ID, "bob")
			require.True(rt, after.Read)
		}
		if got.Archived {
			_, _ = s.SetArchived(ctx, m.ID, "bob")
			after, _ := s.GetMessage(ctx, m.ID, "bob")
			require.True(rt, after.Archived)
		}
	})
}

func TestProperty_ThreadConsistency(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := NewMemoryStore()
		ctx := context.Background()

		root := newMessage("alice", "bob", "root")
		require.NoError(rt, s.PutMessage(ctx, root))

		n := rapid.IntRange(0, 6).Draw(rt, "replies")
		parentID := root.ID
		for i := 0; i < n; i++ {
			reply := newMessage("bob", "alice", fmt.Sprintf("reply-%d", i))
			reply.ThreadID = root.ThreadID
			p := parentID
			reply.ReplyTo = &p
			require.NoError(rt, s.PutMessage(ctx, reply))
			parentID = reply.ID
		}

		thread, err := s.GetThread(ctx, root.ThreadID, "alice")
		require.NoError(rt, err)
		for _, m := range thread {
			if m.ReplyTo != nil {
				parent, err := s.GetMessage(ctx, *m.ReplyTo, "alice")
				require.NoError(rt, err)
				require.Equal(rt, parent.ThreadID, m.ThreadID)
			}
		}
	})
}

func TestProperty_SearchSoundness(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := NewMemoryStore()
		ctx := context.Background()
		query := rapid.StringMatching(`[a-z]{3,6}`).Draw(rt, "query")

		count := rapid.IntRange(1, 8).Draw(rt, "count")
		for i := 0; i < count; i++ {
			body := rapid.StringMatching(`[a-z]{0,10}`).Draw(rt, fmt.Sprintf("body-%d", i))
			m := newMessage("alice", "bob", body)
			require.NoError(rt, s.PutMessage(ctx, m))
		}

		got, err := s.Search(ctx, "bob", SearchFilter{Query: query, DaysBack: 30, Limit: 100})
		require.NoError(rt, err)
		for _, m := range got {
			require.True(rt, m.MatchesQuery(query))
		}
	})
}
