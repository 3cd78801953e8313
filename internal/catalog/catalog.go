// Package catalog maps action ids to their risk level and handler, and
// decides which recommended actions may run unattended.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// RiskLevel grades how dangerous it is to run an action without a human.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Handler executes an action and returns a short result summary.
type Handler func(ctx context.Context, payload map[string]any) (string, error)

// Entry is one registered action.
type Entry struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Risk        RiskLevel `json:"riskLevel"`
	Handler     Handler   `json:"-"`
}

// Catalog is a concurrency-safe registry of actions.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Entry
	logger  *slog.Logger
}

// New returns an empty catalog.
func New(logger *slog.Logger) *Catalog {
	return &Catalog{entries: make(map[string]Entry), logger: logger}
}

// Register adds e, replacing any entry with the same id.
func (c *Catalog) Register(e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("catalog: entry id is required")
	}
	if e.Handler == nil {
		return fmt.Errorf("catalog: entry %q has no handler", e.ID)
	}
	switch e.Risk {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		return fmt.Errorf("catalog: entry %q has unknown risk level %q", e.ID, e.Risk)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[e.ID]; exists {
		c.logger.Warn("catalog: overwriting registered action", "action_id", e.ID)
	}
	c.entries[e.ID] = e
	return nil
}

// Lookup returns the entry for id.
func (c *Catalog) Lookup(id string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// Entries returns all entries sorted by id.
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Default returns a catalog holding the actions the stock policy recommends.
// Handlers only log and summarise; nothing is executed against real hosts.
func Default(logger *slog.Logger) *Catalog {
	c := New(logger)
	stub := func(id string, summarize func(map[string]any) string) Handler {
		return func(_ context.Context, payload map[string]any) (string, error) {
			logger.Info("catalog: action executed", "action_id", id, "payload", payload)
			return summarize(payload), nil
		}
	}
	defaults := []Entry{
		{
			ID:          "rollback",
			Description: "Roll back to the last successful release.",
			Risk:        RiskHigh,
			Handler: stub("rollback", func(p map[string]any) string {
				return fmt.Sprintf("Rollback started (method %v).", p["method"])
			}),
		},
		{
			ID:          "alert-oncall",
			Description: "Notify the on-call team.",
			Risk:        RiskLow,
			Handler: stub("alert-oncall", func(p map[string]any) string {
				return fmt.Sprintf("Notification sent to %v.", p["channel"])
			}),
		},
		{
			ID:          "delay-deploy",
			Description: "Postpone the next automatic deployment.",
			Risk:        RiskMedium,
			Handler: stub("delay-deploy", func(p map[string]any) string {
				return fmt.Sprintf("Next deployment delayed by %v seconds.", p["delaySeconds"])
			}),
		},
		{
			ID:          "scale-up",
			Description: "Increase replicas of the instance group.",
			Risk:        RiskMedium,
			Handler: stub("scale-up", func(p map[string]any) string {
				return fmt.Sprintf("Scale-up by %v requested.", p["scaleBy"])
			}),
		},
		{
			ID:          "manual-audit",
			Description: "Ask an operator to audit recent decisions.",
			Risk:        RiskLow,
			Handler: stub("manual-audit", func(map[string]any) string {
				return "Audit request filed."
			}),
		},
		{
			ID:          "no-op",
			Description: "Nothing to do.",
			Risk:        RiskLow,
			Handler: stub("no-op", func(map[string]any) string {
				return "No action taken."
			}),
		},
	}
	for _, e := range defaults {
		// Entries above are well-formed; Register only fails on programmer error.
		if err := c.Register(e); err != nil {
			panic(err)
		}
	}
	return c
}
