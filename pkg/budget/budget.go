// Package budget implements the probabilistic HIGH-pool limiter.
package budget

import (
	"math/rand"
	"strings"

	"github.com/tierd-ai/tierd/pkg/config"
	"github.com/tierd-ai/tierd/pkg/models"
)

// Limiter decides whether a caller may trigger the HIGH pool this turn.
// Each mode maps to a 0-100 ratio; a uniform draw in [1,100] must land
// at or under the ratio for HIGH to be allowed.
type Limiter struct {
	cfg  *config.Config
	intn func(int) int
}

// New builds a Limiter using the shared math/rand source.
func New(cfg *config.Config) *Limiter {
	return &Limiter{cfg: cfg, intn: rand.Intn}
}

// NewWithRand builds a Limiter with an injectable draw for tests.
// intn must behave like rand.Intn.
func NewWithRand(cfg *config.Config, intn func(int) int) *Limiter {
	return &Limiter{cfg: cfg, intn: intn}
}

// ModeFor resolves the budget mode for an identity. Override precedence
// is session, then group, then sender; first valid match wins.
func (l *Limiter) ModeFor(id models.Identity) string {
	for _, key := range []string{id.Session, id.Group, id.Sender} {
		if key == "" {
			continue
		}
		if mode, ok := l.cfg.Budget.Overrides[key]; ok {
			if mode = strings.ToUpper(mode); validMode(mode) {
				return mode
			}
		}
	}
	return l.cfg.Budget.Mode
}

// AllowedHigh reports whether this turn may route to the HIGH pool.
// Always true when budget control is disabled.
func (l *Limiter) AllowedHigh(id models.Identity) bool {
	if !l.cfg.Budget.Enabled {
		return true
	}
	ratio := l.cfg.RatioFor(l.ModeFor(id))
	if ratio >= 100 {
		return true
	}
	if ratio <= 0 {
		return false
	}
	return l.intn(100)+1 <= ratio
}

func validMode(mode string) bool {
	switch mode {
	case "ECONOMY", "BALANCED", "FLAGSHIP":
		return true
	}
	return false
}
