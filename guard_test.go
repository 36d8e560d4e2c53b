package migrasi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSkipGuard_FalseConditionsRaiseNothing(t *testing.T) {
	g := &SkipGuard{}

	assert.NoError(t, g.AbortIf(false, "never"))
	assert.NoError(t, g.WarnIf(false, "never"))
	assert.Nil(t, g.Fatal())
	assert.Nil(t, g.Raised())
	assert.Empty(t, g.Warnings())
}

func TestSkipGuard_AbortIf(t *testing.T) {
	g := &SkipGuard{}

	err := g.AbortIf(true, "schema version is %d", 25)

	var sig *SkipSignal
	assert.True(t, errors.As(err, &sig))
	assert.False(t, sig.Advisory())
	assert.Equal(t, "fatal skip: schema version is 25", err.Error())
	assert.Same(t, sig, g.Fatal())

	// the first fatal signal is kept
	_ = g.AbortIf(true, "second")
	assert.Equal(t, "schema version is 25", g.Fatal().Message)
}

func TestSkipGuard_WarnIf(t *testing.T) {
	g := &SkipGuard{}

	err := g.WarnIf(true, "%s is not set", "TOKEN")

	var sig *SkipSignal
	assert.True(t, errors.As(err, &sig))
	assert.True(t, sig.Advisory())
	assert.Nil(t, g.Fatal())
	assert.Same(t, sig, g.Raised())
	assert.Equal(t, []string{"TOKEN is not set"}, g.Warnings())

	// a later abort outranks the warning
	abort := g.AbortIf(true, "worse")
	assert.Equal(t, abort, g.Raised())
}

func TestSettleHandlerError(t *testing.T) {
	boom := errors.New("boom")

	t.Run("success", func(t *testing.T) {
		assert.NoError(t, settleHandlerError(nil, &SkipGuard{}))
	})

	t.Run("advisory signal is success", func(t *testing.T) {
		g := &SkipGuard{}
		assert.NoError(t, settleHandlerError(g.WarnIf(true, "skip"), g))
	})

	t.Run("plain error propagates", func(t *testing.T) {
		assert.Equal(t, boom, settleHandlerError(boom, &SkipGuard{}))
	})

	t.Run("fatal signal propagates", func(t *testing.T) {
		g := &SkipGuard{}
		err := settleHandlerError(g.AbortIf(true, "stop"), g)
		assert.Same(t, g.Fatal(), err)
	})

	t.Run("swallowed fatal signal still fails", func(t *testing.T) {
		g := &SkipGuard{}
		_ = g.AbortIf(true, "stop")
		err := settleHandlerError(nil, g)
		assert.Same(t, g.Fatal(), err)
	})

	t.Run("fatal wins over advisory", func(t *testing.T) {
		g := &SkipGuard{}
		_ = g.AbortIf(true, "stop")
		err := settleHandlerError(g.WarnIf(true, "skip"), g)
		assert.Same(t, g.Fatal(), err)
	})

	t.Run("driver error kept alongside fatal", func(t *testing.T) {
		g := &SkipGuard{}
		_ = g.AbortIf(true, "stop")
		assert.Equal(t, boom, settleHandlerError(boom, g))
	})
}
