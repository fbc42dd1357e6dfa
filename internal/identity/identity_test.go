package identity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/agentmaild/agentmaild/internal/store"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "Claude-Desktop", "claude-desktop"},
		{"strips invalid chars", "claude_desktop!!", "claude-desktop"},
		{"collapses runs of separators", "claude   desktop", "claude-desktop"},
		{"too short falls back empty", "ab", ""},
		{"empty stays empty", "", ""},
		{"trims leading/trailing dash", "-claude-", "claude"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestRegister_CollisionResolution(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewResolver(s, "machine-1", zap.NewNop())
	ctx := context.Background()

	first, err := r.Register(ctx, "claude-desktop")
	require.NoError(t, err)
	require.Equal(t, "claude-desktop", first)

	second, err := r.Register(ctx, "claude-desktop")
	require.NoError(t, err)
	require.Equal(t, "claude-desktop-2", second)

	third, err := r.Register(ctx, "claude-desktop")
	require.NoError(t, err)
	require.Equal(t, "claude-desktop-3", third)
}

func TestStatus_PresenceWindow(t *testing.T) {
	require.Equal(t, "online", Status(time.Now()))
	require.Equal(t, "offline", Status(time.Now().Add(-2*time.Minute)))
}

// TestMarkOffline_ReadsOfflineImmediately covers spec §4.5: a graceful
// shutdown must not leave presence reading "online" for the rest of the
// OnlineWindow after the process has already exited.
func TestMarkOffline_ReadsOfflineImmediately(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewResolver(s, "machine-1", zap.NewNop())
	ctx := context.Background()

	name, err := r.Register(ctx, "claude-desktop")
	require.NoError(t, err)

	require.NoError(t, r.MarkOffline(ctx, name))

	a, err := s.FindAgent(ctx, name, "machine-1")
	require.NoError(t, err)
	require.Equal(t, "offline", Status(a.LastSeen))
}

// TestProperty_NameUniqueness is P5: no two agent rows share (name,
// machine_id), even when many candidates collide on the same base.
func TestProperty_NameUniqueness(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := store.NewMemoryStore()
		r := NewResolver(s, "machine-1", zap.NewNop())
		ctx := context.Background()

		bases := rapid.SliceOfN(rapid.SampledFrom([]string{"agent-a", "agent-b"}), 1, 12).Draw(rt, "bases")

		seen := map[string]struct{}{}
		for i, base := range bases {
			name, err := r.Register(ctx, base)
			require.NoError(rt, err)
			key := fmt.Sprintf("%s\x00machine-1", name)
			_, dup := seen[key]
			require.Falsef(rt, dup, "duplicate name %s at registration %d", name, i)
			seen[key] = struct{}{}
		}
	})
}
