package migrasi

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Scope is everything a handler may touch while it runs.
type Scope struct {
	Platform Platform
	Exec     *Executor
	Guard    *SkipGuard
	Env      Env
	Log      logrus.FieldLogger
}

// Handler is the body of one direction of a migration.
type Handler func(ctx context.Context, s *Scope) error

type handlerKey struct {
	direction Direction
	platform  Platform
}

// Migration is one schema change: a version, a description, and handlers
// keyed by direction and platform. Build it once at init time; the runner
// only reads it.
type Migration struct {
	version       Version
	description   string
	noTransaction bool
	handlers      map[handlerKey]Handler
}

// NewMigration starts a migration with no handlers. It panics on an invalid
// version, since migrations are authored in code.
func NewMigration(version string, description string) *Migration {
	v, err := ParseVersion(version)
	if err != nil {
		panic(err)
	}
	return &Migration{
		version:     v,
		description: description,
		handlers:    make(map[handlerKey]Handler),
	}
}

func (m *Migration) Version() Version {
	return m.version
}

func (m *Migration) Description() string {
	return m.description
}

// Transactional reports whether the migration may run inside a transaction.
func (m *Migration) Transactional() bool {
	return !m.noTransaction
}

// Up sets the generic forward handler.
func (m *Migration) Up(h Handler) *Migration {
	return m.on(Up, PlatformAny, h)
}

// Down sets the generic backward handler.
func (m *Migration) Down(h Handler) *Migration {
	return m.on(Down, PlatformAny, h)
}

// UpOn sets the forward handler for one platform.
func (m *Migration) UpOn(p Platform, h Handler) *Migration {
	return m.on(Up, p, h)
}

// DownOn sets the backward handler for one platform.
func (m *Migration) DownOn(p Platform, h Handler) *Migration {
	return m.on(Down, p, h)
}

// WithoutTransaction runs the migration outside a transaction, for statements
// such as SQLite's PRAGMA foreign_keys that are ignored inside one.
func (m *Migration) WithoutTransaction() *Migration {
	m.noTransaction = true
	return m
}

func (m *Migration) on(d Direction, p Platform, h Handler) *Migration {
	m.handlers[handlerKey{direction: d, platform: p}] = h
	return m
}

// HasHandler reports whether a handler resolves for d on p.
func (m *Migration) HasHandler(d Direction, p Platform) bool {
	_, err := m.HandlerFor(d, p)
	return err == nil
}

// HandlerFor resolves the handler for d on p: the platform handler first,
// then the generic one.
func (m *Migration) HandlerFor(d Direction, p Platform) (Handler, error) {
	if h, ok := m.handlers[handlerKey{direction: d, platform: p}]; ok && h != nil {
		return h, nil
	}
	if h, ok := m.handlers[handlerKey{direction: d, platform: PlatformAny}]; ok && h != nil {
		return h, nil
	}
	return nil, &NoHandlerError{Version: m.version, Direction: d, Platform: p}
}

// SQL returns a handler that executes stmts in order.
func SQL(stmts ...string) Handler {
	return func(ctx context.Context, s *Scope) error {
		return s.Exec.ExecAll(ctx, stmts...)
	}
}

// Noop is a handler that does nothing, for migrations with no way back.
func Noop(context.Context, *Scope) error {
	return nil
}
