// Package identity resolves and maintains the calling agent's name and
// presence: detection (env override, host heuristics, fallback),
// normalization, deterministic collision resolution, and the 60-second
// online/offline presence window. Name detection uses no third-party
// library — detecting "who am I on this host" is correctly a stdlib-only
// concern (os.Hostname, os.Getpid, os/user), recorded as such in the
// grounding ledger.
package identity

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentmaild/agentmaild/internal/store"
)

// OnlineWindow is the fixed presence recency window (spec §4.2); not
// parameterized per the spec's design notes.
const OnlineWindow = 60 * time.Second

// HeartbeatInterval is how often Lifecycle refreshes last_seen.
const HeartbeatInterval = 30 * time.Second

var nameGrammar = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$|^[a-z0-9]$`)

// Resolver detects and registers the calling agent's name against a Store,
// handling collision resolution and presence bookkeeping.
type Resolver struct {
	store     store.Store
	machineID string
	logger    *zap.Logger
}

// NewResolver constructs a Resolver bound to the given store and host
// machine id.
func NewResolver(s store.Store, machineID string, logger *zap.Logger) *Resolver {
	return &Resolver{store: s, machineID: machineID, logger: logger.With(zap.String("component", "identity"))}
}

// MachineID returns the resolver's cached machine identifier.
func (r *Resolver) MachineID() string { return r.machineID }

// DetectName implements the detection order of spec §4.2: explicit env
// override, then best-effort host/process heuristics, then a fixed
// fallback. The returned candidate is normalized but not yet
// collision-resolved.
func DetectName() string {
	if env := os.Getenv("AI_AGENT_NAME"); env != "" {
		if n := Normalize(env); n != "" {
			return n
		}
	}

	if u, err := user.Current(); err == nil && u.Username != "" {
		if n := Normalize(u.Username); n != "" {
			return n
		}
	}

	return fallbackName()
}

func fallbackName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return "agent-" + shortHost(host)
}

func shortHost(host string) string {
	host = strings.ToLower(host)
	if i := strings.IndexByte(host, '.'); i >= 0 {
		host = host[:i]
	}
	n := Normalize(host)
	if n == "" {
		return "host"
	}
	return n
}

// Normalize lowercases and strips characters outside the agent-name
// grammar, per spec §4.2. The caller must fall back if the result is
// empty or under 3 characters.
func Normalize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	prevDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		case r == '-' || r == '_' || r == ' ':
			if !prevDash && b.Len() > 0 {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) < 3 || !nameGrammar.MatchString(out) {
		return ""
	}
	return out
}

// Register resolves candidate's collision-free name on this machine,
// upserting the agent row with the current process diagnostics, and
// returns the final (possibly suffixed) name. Deterministic and
// terminating (spec §4.2: the per-host name set is finite).
func (r *Resolver) Register(ctx context.Context, candidate string) (string, error) {
	if candidate == "" {
		candidate = fallbackName()
	}

	name := candidate
	for n := 1; ; n++ {
		_, err := r.store.FindAgent(ctx, name, r.machineID)
		if err != nil {
			// Not found: this name is free.
			break
		}
		name = fmt.Sprintf("%s-%d", candidate, n+1)
	}

	agent := store.Agent{
		Name:        name,
		MachineID:   r.machineID,
		LastSeen:    time.Now().UTC(),
		ProcessInfo: processInfo(),
	}
	if err := r.store.UpsertAgent(ctx, agent); err != nil {
		return "", fmt.Errorf("register agent %s: %w", name, err)
	}
	r.logger.Info("agent registered", zap.String("name", name))
	return name, nil
}

// Heartbeat refreshes last_seen for name on this machine.
func (r *Resolver) Heartbeat(ctx context.Context, name string) error {
	return r.store.UpsertAgent(ctx, store.Agent{
		Name:        name,
		MachineID:   r.machineID,
		LastSeen:    time.Now().UTC(),
		ProcessInfo: processInfo(),
	})
}

// MarkOffline records a graceful shutdown. Status is never stored
// directly — it is always derived fresh from last_seen on read (spec
// §4.2) — so this back-dates last_seen outside OnlineWindow rather than
// refreshing it, making Status report "offline" immediately instead of
// for up to OnlineWindow after the process has already exited.
func (r *Resolver) MarkOffline(ctx context.Context, name string) error {
	return r.store.UpsertAgent(ctx, store.Agent{
		Name:        name,
		MachineID:   r.machineID,
		LastSeen:    time.Now().UTC().Add(-OnlineWindow - time.Second),
		ProcessInfo: processInfo(),
	})
}

func processInfo() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("pid=%d host=%s", os.Getpid(), host)
}

// Status derives online/offline from last_seen, never trusting a stored
// status column (spec §4.2).
func Status(lastSeen time.Time) string {
	if time.Since(lastSeen) <= OnlineWindow {
		return "online"
	}
	return "offline"
}
