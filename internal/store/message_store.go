package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Tags is an unordered set of strings, serialized as a JSON array and
// stored as a single TEXT column so both backends share one wire format.
type Tags []string

// Value implements driver.Valuer for gorm/database-sql.
func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(t))
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner for gorm/database-sql.
func (t *Tags) Scan(value any) error {
	if value == nil {
		*t = nil
		return nil
	}
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("unsupported Scan type for Tags: %T", value)
	}
	if raw == "" {
		*t = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return fmt.Errorf("unmarshal tags: %w", err)
	}
	*t = out
	return nil
}

// NormalizeTags dedupes tags and rejects empty strings, per send_mail's
// precondition that tags contains only non-empty strings.
func NormalizeTags(tags []string) ([]string, error) {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("tag must not be empty")
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// MatchesQuery reports whether the case-insensitive substring q appears in
// subject, body, or any tag (search soundness, P7).
func (m Message) MatchesQuery(q string) bool {
	q = strings.ToLower(q)
	if strings.Contains(strings.ToLower(m.Subject), q) {
		return true
	}
	if strings.Contains(strings.ToLower(m.Body), q) {
		return true
	}
	for _, tag := range m.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// lessInbox orders two messages by (priority DESC, timestamp DESC, id ASC),
// the fixed ListInbox/check_mail ordering (P6).
func lessInbox(a, b Message) bool {
	if a.Priority.rank() != b.Priority.rank() {
		return a.Priority.rank() > b.Priority.rank()
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID < b.ID
}
