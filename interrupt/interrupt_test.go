package interrupt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstate-dev/graphkit/interrupt"
)

func TestControllerRaiseAndPending(t *testing.T) {
	c := interrupt.NewController()

	_, ok := c.Pending("thread-1")
	assert.False(t, ok)

	in := interrupt.Interrupt{ID: "i1", NodeID: "review", Value: "approve?"}
	c.Raise("thread-1", in)

	got, ok := c.Pending("thread-1")
	require.True(t, ok)
	assert.Equal(t, in, got)
}

func TestControllerResumeOnce(t *testing.T) {
	c := interrupt.NewController()
	c.Raise("thread-1", interrupt.Interrupt{ID: "i1", NodeID: "review"})

	err := c.Resume("thread-1", "yes")
	require.NoError(t, err)

	val, ok := c.ResumeValue("thread-1")
	require.True(t, ok)
	assert.Equal(t, "yes", val)

	err = c.Resume("thread-1", "yes-again")
	assert.ErrorIs(t, err, interrupt.ErrAlreadyResumed)
}

func TestControllerResumeWithoutPending(t *testing.T) {
	c := interrupt.NewController()
	err := c.Resume("thread-missing", "value")
	assert.ErrorIs(t, err, interrupt.ErrNoPendingInterrupt)
}

func TestControllerPendingHiddenAfterResume(t *testing.T) {
	c := interrupt.NewController()
	c.Raise("thread-1", interrupt.Interrupt{ID: "i1"})
	require.NoError(t, c.Resume("thread-1", 42))

	_, ok := c.Pending("thread-1")
	assert.False(t, ok, "a resumed interrupt should no longer be reported as pending")
}

func TestControllerClear(t *testing.T) {
	c := interrupt.NewController()
	c.Raise("thread-1", interrupt.Interrupt{ID: "i1"})
	c.Clear("thread-1")

	_, ok := c.Pending("thread-1")
	assert.False(t, ok)
	err := c.Resume("thread-1", "x")
	assert.ErrorIs(t, err, interrupt.ErrNoPendingInterrupt)
}

func TestControllerRaiseReplacesPriorResumed(t *testing.T) {
	c := interrupt.NewController()
	c.Raise("thread-1", interrupt.Interrupt{ID: "i1"})
	require.NoError(t, c.Resume("thread-1", "first"))

	c.Raise("thread-1", interrupt.Interrupt{ID: "i2"})
	got, ok := c.Pending("thread-1")
	require.True(t, ok)
	assert.Equal(t, "i2", got.ID)
}

func TestBreakpoints(t *testing.T) {
	bp := interrupt.NewBreakpoints([]string{"a", "b"}, []string{"c"})

	assert.True(t, bp.ShouldPauseBefore("a"))
	assert.True(t, bp.ShouldPauseBefore("b"))
	assert.False(t, bp.ShouldPauseBefore("c"))

	assert.True(t, bp.ShouldPauseAfter("c"))
	assert.False(t, bp.ShouldPauseAfter("a"))
}

func TestBreakpointsEmpty(t *testing.T) {
	bp := interrupt.NewBreakpoints(nil, nil)
	assert.False(t, bp.ShouldPauseBefore("anything"))
	assert.False(t, bp.ShouldPauseAfter("anything"))
}
