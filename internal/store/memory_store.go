package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store, mirroring the shape of the teacher's
// MemoryMessageStore: a primary map plus secondary indexes guarded by one
// RWMutex. It backs fast kernel/dispatcher tests; data does not survive
// process restart.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]Message   // id -> message
	byThread map[string][]string  // thread_id -> message ids (insertion order)
	agents   map[string]Agent     // "name\x00machine_id" -> agent
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]Message),
		byThread: make(map[string][]string),
		agents:   make(map[string]Agent),
	}
}

func agentKey(name, machineID string) string {
	return name + "\x00" + machineID
}

func (s *MemoryStore) PutMessage(ctx context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStorageFailure
	}
	s.messages[m.ID] = m
	s.byThread[m.ThreadID] = append(s.byThread[m.ThreadID], m.ID)
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id, viewer string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok || (m.Sender != viewer && m.Recipient != viewer) {
		return Message{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) MessageExists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrStorageFailure
	}
	_, ok := s.messages[id]
	return ok, nil
}

func (s *MemoryStore) ListInbox(ctx context.Context, recipient string, filter InboxFilter) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := cutoffTime(filter.DaysBack)
	var out []Message
	for _, m := range s.messages {
		if m.Recipient != recipient || m.Archived {
			continue
		}
		if m.Timestamp.Before(cutoff) {
			continue
		}
		if filter.UnreadOnly && m.Read {
			continue
		}
		if filter.PriorityEq != "" && m.Priority != filter.PriorityEq {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return lessInbox(out[i], out[j]) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Search(ctx context.Context, participant string, filter SearchFilter) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := cutoffTime(filter.DaysBack)
	var out []Message
	for _, m := range s.messages {
		if m.Sender != participant && m.Recipient != participant {
			continue
		}
		if m.Archived || m.Timestamp.Before(cutoff) {
			continue
		}
		if filter.SenderEq != "" && m.Sender != filter.SenderEq {
			continue
		}
		if filter.PriorityEq != "" && m.Priority != filter.PriorityEq {
			continue
		}
		if filter.Query != "" && !m.MatchesQuery(filter.Query) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) GetThread(ctx context.Context, threadID, participant string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Message
	for _, id := range s.byThread[threadID] {
		m := s.messages[id]
		if m.Sender == participant || m.Recipient == participant {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, ids []string, recipient string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, id := range ids {
		m, ok := s.messages[id]
		if !ok || m.Recipient != recipient || m.Read {
			continue
		}
		m.Read = true
		s.messages[id] = m
		count++
	}
	return count, nil
}

func (s *MemoryStore) SetArchived(ctx context.Context, id, recipient string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok || m.Recipient != recipient {
		return 0, nil
	}
	if m.Archived {
		return 0, nil
	}
	m.Archived = true
	s.messages[id] = m
	return 1, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id, recipient string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok || m.Recipient != recipient {
		return 0, nil
	}
	delete(s.messages, id)
	ids := s.byThread[m.ThreadID]
	for i, tid := range ids {
		if tid == id {
			s.byThread[m.ThreadID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return 1, nil
}

func (s *MemoryStore) UpsertAgent(ctx context.Context, a Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agentKey(a.Name, a.MachineID)] = a
	return nil
}

func (s *MemoryStore) FindAgent(ctx context.Context, name, machineID string) (Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[agentKey(name, machineID)]
	if !ok {
		return Agent{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) ListAgents(ctx context.Context, onlyRecent time.Duration) ([]Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var out []Agent
	for _, a := range s.agents {
		if onlyRecent > 0 && now.Sub(a.LastSeen) > onlyRecent {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}

func (s *MemoryStore) GetStats(ctx context.Context, forAgent string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{ByPriority: map[Priority]int{}}
	stats.AgentsTotal = len(s.agents)
	threads := map[string]struct{}{}
	for _, m := range s.messages {
		if m.Recipient != forAgent {
			if m.Sender == forAgent {
				threads[m.ThreadID] = struct{}{}
			}
			continue
		}
		threads[m.ThreadID] = struct{}{}
		if m.Archived {
			continue
		}
		stats.TotalInbox++
		if !m.Read {
			stats.UnreadInbox++
			stats.ByPriority[m.Priority]++
			if m.Priority == PriorityUrgent {
				stats.UnreadUrgent++
			}
		}
	}
	stats.DistinctThreadsForAgent = len(threads)
	return stats, nil
}

func (s *MemoryStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, m := range s.messages {
		if m.Archived && m.Timestamp.Before(olderThan) {
			delete(s.messages, id)
			ids := s.byThread[m.ThreadID]
			for i, tid := range ids {
				if tid == id {
					s.byThread[m.ThreadID] = append(ids[:i], ids[i+1:]...)
					break
				}
			}
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cutoffTime(daysBack int) time.Time {
	if daysBack <= 0 {
		return time.Time{}
	}
	return time.Now().UTC().AddDate(0, 0, -daysBack)
}

var _ Store = (*MemoryStore)(nil)
