// Package acl evaluates layered whitelist/blacklist access control for
// router traffic and management commands.
package acl

import (
	"github.com/tierd-ai/tierd/pkg/config"
	"github.com/tierd-ai/tierd/pkg/models"
)

// Checker answers allow/deny questions against a config snapshot.
// An identity passes one list pair when none of its keys is blacklisted
// and, if the whitelist is non-empty, at least one key is whitelisted.
// Every applicable tier must pass.
type Checker struct {
	cfg config.ACLConfig
}

// New builds a Checker over an ACL config snapshot.
func New(cfg config.ACLConfig) *Checker {
	return &Checker{cfg: cfg}
}

// AllowRouter reports whether id may use tier routing. The global tier
// is checked first, then the router tier.
func (c *Checker) AllowRouter(id models.Identity) bool {
	keys := id.Keys()
	return passes(c.cfg.Global, keys) && passes(c.cfg.Router, keys)
}

// AllowCommand reports whether id may run a management command. The
// global tier applies first, then the shared command tier, then the
// wildcard entry, then the per-command entry.
func (c *Checker) AllowCommand(id models.Identity, command string) bool {
	keys := id.Keys()
	if !passes(c.cfg.Global, keys) || !passes(c.cfg.Command, keys) {
		return false
	}
	if wild, ok := c.cfg.Commands["*"]; ok && !passes(wild, keys) {
		return false
	}
	if per, ok := c.cfg.Commands[command]; ok && !passes(per, keys) {
		return false
	}
	return true
}

func passes(list config.ACLList, keys []string) bool {
	for _, k := range keys {
		if contains(list.Blacklist, k) {
			return false
		}
	}
	if len(list.Whitelist) == 0 {
		return true
	}
	for _, k := range keys {
		if contains(list.Whitelist, k) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
