package acl

import (
	"testing"

	"github.com/tierd-ai/tierd/pkg/config"
	"github.com/tierd-ai/tierd/pkg/models"
)

func id(session, group, sender string) models.Identity {
	return models.Identity{Session: session, Group: group, Sender: sender}
}

func TestEmptyConfigAllowsEveryone(t *testing.T) {
	c := New(config.ACLConfig{})
	if !c.AllowRouter(id("s1", "g1", "u1")) {
		t.Error("empty ACL should allow routing")
	}
	if !c.AllowCommand(id("s1", "g1", "u1"), "stats") {
		t.Error("empty ACL should allow commands")
	}
}

func TestBlacklistWins(t *testing.T) {
	c := New(config.ACLConfig{
		Global: config.ACLList{
			Whitelist: []string{"u1"},
			Blacklist: []string{"g1"},
		},
	})
	// Sender is whitelisted but the group is blacklisted.
	if c.AllowRouter(id("s1", "g1", "u1")) {
		t.Error("blacklist must override whitelist")
	}
}

func TestWhitelistIntersection(t *testing.T) {
	c := New(config.ACLConfig{
		Router: config.ACLList{Whitelist: []string{"g1", "u9"}},
	})
	if !c.AllowRouter(id("s1", "g1", "u1")) {
		t.Error("group match should satisfy the whitelist")
	}
	if c.AllowRouter(id("s2", "g2", "u2")) {
		t.Error("no key in whitelist should deny")
	}
}

func TestGlobalAppliesBeforeRouter(t *testing.T) {
	c := New(config.ACLConfig{
		Global: config.ACLList{Blacklist: []string{"u1"}},
		Router: config.ACLList{Whitelist: []string{"u1"}},
	})
	if c.AllowRouter(id("s1", "g1", "u1")) {
		t.Error("globally blacklisted identity must be denied everywhere")
	}
}

func TestPerCommandLists(t *testing.T) {
	c := New(config.ACLConfig{
		Commands: map[string]config.ACLList{
			"*":     {Blacklist: []string{"u2"}},
			"reset": {Whitelist: []string{"u1"}},
		},
	})

	if !c.AllowCommand(id("s", "g", "u1"), "reset") {
		t.Error("u1 is whitelisted for reset")
	}
	if c.AllowCommand(id("s", "g", "u3"), "reset") {
		t.Error("reset whitelist should exclude u3")
	}
	if !c.AllowCommand(id("s", "g", "u3"), "stats") {
		t.Error("stats has no per-command list, u3 should pass")
	}
	if c.AllowCommand(id("s", "g", "u2"), "stats") {
		t.Error("wildcard blacklist should deny u2 for every command")
	}
}

func TestSharedCommandTier(t *testing.T) {
	c := New(config.ACLConfig{
		Command: config.ACLList{Whitelist: []string{"g-admin"}},
	})
	if !c.AllowCommand(id("s", "g-admin", "u1"), "stats") {
		t.Error("admin group should pass the shared command tier")
	}
	if c.AllowCommand(id("s", "g-user", "u1"), "stats") {
		t.Error("non-admin should be denied commands")
	}
	if !c.AllowRouter(id("s", "g-user", "u1")) {
		t.Error("command tier must not affect routing")
	}
}
