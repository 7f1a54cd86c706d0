package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_RegisterAndLookup(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("run-1", "session-abc")
	sid, ok := r.SessionFor("run-1")
	assert.True(t, ok)
	assert.Equal(t, "session-abc", sid)
}

func TestSessionRegistry_NotFound(t *testing.T) {
	r := NewSessionRegistry()

	_, ok := r.SessionFor("unknown")
	assert.False(t, ok)
}

func TestSessionRegistry_Forget(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("run-1", "session-abc")
	r.Forget("run-1")

	_, ok := r.SessionFor("run-1")
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestSessionRegistry_RemoveSession(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("run-1", "session-abc")
	r.Register("run-2", "session-abc")
	r.Register("run-3", "session-xyz")

	r.Remove("session-abc")

	_, ok1 := r.SessionFor("run-1")
	_, ok2 := r.SessionFor("run-2")
	sid3, ok3 := r.SessionFor("run-3")
	assert.False(t, ok1)
	assert.False(t, ok2)
	assert.True(t, ok3)
	assert.Equal(t, "session-xyz", sid3)
}
