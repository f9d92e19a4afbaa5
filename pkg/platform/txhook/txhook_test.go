package txhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeferWithoutSetAppliesNothing(t *testing.T) {
	assert.False(t, Defer(context.Background(), func() { t.Fatal("must not run") }))
}

func TestRunAppliesInOrderOnce(t *testing.T) {
	ctx, set := Open(context.Background())
	var got []int
	assert.True(t, Defer(ctx, func() { got = append(got, 1) }))
	assert.True(t, Defer(ctx, func() { got = append(got, 2) }))
	assert.Empty(t, got, "nothing applied before commit")

	set.Run()
	set.Run()
	assert.Equal(t, []int{1, 2}, got)
}

func TestDroppedSetNeverApplies(t *testing.T) {
	ctx, _ := Open(context.Background())
	applied := false
	Defer(ctx, func() { applied = true })
	assert.False(t, applied)
}
