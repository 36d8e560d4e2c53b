package migrasi

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marker(name string, calls *[]string) Handler {
	return func(context.Context, *Scope) error {
		*calls = append(*calls, name)
		return nil
	}
}

func TestNewMigration_InvalidVersionPanics(t *testing.T) {
	assert.Panics(t, func() { NewMigration("2015", "bad") })
	assert.NotPanics(t, func() { NewMigration("20150608120000", "good") })
}

func TestMigration_HandlerFor(t *testing.T) {
	var calls []string
	m := NewMigration("20150608120000", "create tables").
		UpOn(PlatformMySQL, marker("up-mysql", &calls)).
		Up(marker("up-generic", &calls)).
		Down(marker("down-generic", &calls))

	h, err := m.HandlerFor(Up, PlatformMySQL)
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), nil))

	h, err = m.HandlerFor(Up, PlatformSQLite)
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), nil))

	h, err = m.HandlerFor(Down, PlatformMySQL)
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), nil))

	assert.Equal(t, []string{"up-mysql", "up-generic", "down-generic"}, calls)
}

func TestMigration_HandlerFor_NoHandler(t *testing.T) {
	m := NewMigration("20151001180120", "convert charset").
		UpOn(PlatformMySQL, Noop)

	assert.True(t, m.HasHandler(Up, PlatformMySQL))
	assert.False(t, m.HasHandler(Up, PlatformPostgreSQL))

	_, err := m.HandlerFor(Up, PlatformPostgreSQL)
	var noHandler *NoHandlerError
	require.True(t, errors.As(err, &noHandler))
	assert.Equal(t, Version("20151001180120"), noHandler.Version)
	assert.Equal(t, Up, noHandler.Direction)
	assert.Equal(t, PlatformPostgreSQL, noHandler.Platform)
	assert.Contains(t, err.Error(), "no up handler for platform postgresql")

	_, err = m.HandlerFor(Down, PlatformMySQL)
	assert.True(t, errors.As(err, &noHandler))
}

func TestMigration_Transactional(t *testing.T) {
	m := NewMigration("20170601193239", "rename column")
	assert.True(t, m.Transactional())
	assert.False(t, m.WithoutTransaction().Transactional())
}
