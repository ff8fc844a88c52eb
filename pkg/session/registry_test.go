package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jaewoo-rain/webide/pkg/runtime"
)

func TestInsertIsExclusive(t *testing.T) {
	registry := NewRegistry()
	key := Key{InstanceID: "abc123", SessionID: "s1"}

	assert.True(t, registry.Insert(key, nil))
	assert.False(t, registry.Insert(key, nil))
	assert.EqualValues(t, 1, registry.Len())

	// same instance, different sid is a different slot
	assert.True(t, registry.Insert(Key{InstanceID: "abc123", SessionID: "s2"}, nil))
	// same sid on another instance is also fine
	assert.True(t, registry.Insert(Key{InstanceID: "def456", SessionID: "s1"}, nil))
	assert.EqualValues(t, 3, registry.Len())
}

func TestInsertConflictKeepsIncumbent(t *testing.T) {
	registry := NewRegistry()
	key := Key{InstanceID: "abc123", SessionID: "s1"}

	incumbent := runtime.NewMemoryPTY()
	defer incumbent.Close()

	assert.True(t, registry.Insert(key, incumbent))
	assert.False(t, registry.Insert(key, runtime.NewMemoryPTY()))

	got, ok := registry.PTY(key)
	assert.True(t, ok)
	assert.Equal(t, runtime.PTY(incumbent), got)
}

func TestSetPTYFillsPlaceholder(t *testing.T) {
	registry := NewRegistry()
	key := Key{InstanceID: "abc123", SessionID: "s1"}

	assert.True(t, registry.Insert(key, nil))
	got, ok := registry.PTY(key)
	assert.True(t, ok)
	assert.Nil(t, got)

	pty := runtime.NewMemoryPTY()
	defer pty.Close()
	registry.SetPTY(key, pty)
	got, ok = registry.PTY(key)
	assert.True(t, ok)
	assert.Equal(t, runtime.PTY(pty), got)

	// filling an absent slot is a no-op
	absent := Key{InstanceID: "nope", SessionID: "s9"}
	registry.SetPTY(absent, pty)
	_, ok = registry.PTY(absent)
	assert.False(t, ok)
}

// Readers may consult the handle while the attach is still installing it;
// both sides go through the registry lock, so this is clean under -race.
func TestPTYReadsRaceFreeAgainstSetPTY(t *testing.T) {
	registry := NewRegistry()
	key := Key{InstanceID: "abc123", SessionID: "s1"}
	assert.True(t, registry.Insert(key, nil))

	pty := runtime.NewMemoryPTY()
	defer pty.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			registry.SetPTY(key, nil)
			registry.SetPTY(key, pty)
		}
	}()

	for i := 0; i < 1000; i++ {
		if _, ok := registry.PTY(key); !ok {
			t.Error("claimed slot vanished during attach")
		}
	}
	<-done

	got, ok := registry.PTY(key)
	assert.True(t, ok)
	assert.Equal(t, runtime.PTY(pty), got)
}

func TestRemoveIsIdempotent(t *testing.T) {
	registry := NewRegistry()
	key := Key{InstanceID: "abc123", SessionID: "s1"}

	registry.Insert(key, nil)
	registry.Remove(key)
	registry.Remove(key)
	assert.EqualValues(t, 0, registry.Len())
	assert.Nil(t, registry.Get(key))
}

func TestEach(t *testing.T) {
	registry := NewRegistry()
	registry.Insert(Key{InstanceID: "a", SessionID: "1"}, nil)
	registry.Insert(Key{InstanceID: "b", SessionID: "2"}, nil)

	seen := 0
	registry.Each(func(s *Session) { seen++ })
	assert.EqualValues(t, 2, seen)
}
