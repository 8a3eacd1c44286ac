package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedup(t *testing.T) {
	d := NewDedup(time.Minute)

	assert.False(t, d.IsDuplicate("a:100"))
	assert.True(t, d.IsDuplicate("a:100"))
	assert.False(t, d.IsDuplicate("a:110"))
	assert.False(t, d.IsDuplicate("b:100"))
}

func TestDedupForget(t *testing.T) {
	d := NewDedup(time.Minute)

	assert.False(t, d.IsDuplicate("a:100"))
	d.Forget("a:100")
	assert.False(t, d.IsDuplicate("a:100"))
}

func TestDedupExpiry(t *testing.T) {
	d := NewDedup(10 * time.Millisecond)

	assert.False(t, d.IsDuplicate("a:100"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, d.IsDuplicate("a:100"))
}

func TestDedupCleanup(t *testing.T) {
	d := NewDedup(10 * time.Millisecond)

	d.IsDuplicate("a:100")
	d.IsDuplicate("b:100")
	time.Sleep(20 * time.Millisecond)
	d.Cleanup()

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Empty(t, d.seen)
}
