package client

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGate_Reentrant(t *testing.T) {
	g := &Gate{}
	assert.False(t, g.Engaged())

	outer := g.Acquire()
	inner := g.Acquire()
	assert.True(t, g.Engaged())

	inner.Release()
	assert.True(t, g.Engaged(), "outer token still held")
	outer.Release()
	assert.False(t, g.Engaged())
}

func TestGate_ReleaseIsIdempotent(t *testing.T) {
	g := &Gate{}
	a := g.Acquire()
	b := g.Acquire()

	a.Release()
	a.Release()
	a.Release()
	assert.True(t, g.Engaged(), "double release must not free another holder")

	b.Release()
	assert.False(t, g.Engaged())
}

func TestGate_HoldReleasesOnError(t *testing.T) {
	g := &Gate{}
	boom := errors.New("boom")

	err := g.Hold(func() error {
		assert.True(t, g.Engaged())
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, g.Engaged())
}

func TestGate_HoldReleasesOnPanic(t *testing.T) {
	g := &Gate{}
	assert.Panics(t, func() {
		_ = g.Hold(func() error { panic("reconstruction blew up") })
	})
	assert.False(t, g.Engaged())
}

func TestSuspensionContext(t *testing.T) {
	ctx := context.Background()
	assert.False(t, Suspended(ctx))
	assert.True(t, Suspended(WithSuspension(ctx)))

	type other struct{}
	derived := context.WithValue(WithSuspension(ctx), other{}, 1)
	assert.True(t, Suspended(derived))
}
