package migrasi

import "fmt"

// SkipKind distinguishes a fatal abort from an advisory skip.
type SkipKind int

const (
	SkipFatal SkipKind = iota
	SkipAdvisory
)

func (k SkipKind) String() string {
	if k == SkipAdvisory {
		return "advisory"
	}
	return "fatal"
}

// SkipSignal is raised from a handler through a SkipGuard.
type SkipSignal struct {
	Kind    SkipKind
	Message string
}

func (s *SkipSignal) Error() string {
	return fmt.Sprintf("%s skip: %s", s.Kind, s.Message)
}

// Advisory reports whether the signal only skips the current migration.
func (s *SkipSignal) Advisory() bool {
	return s.Kind == SkipAdvisory
}

// SkipGuard lets a handler end itself early. The returned signal must be
// returned from the handler; the guard also remembers it, so a fatal signal
// fails the migration even if the handler drops it.
type SkipGuard struct {
	fatal    *SkipSignal
	advisory *SkipSignal
	warnings []string
}

// AbortIf raises a fatal signal when cond is true.
func (g *SkipGuard) AbortIf(cond bool, format string, args ...any) error {
	if !cond {
		return nil
	}
	sig := &SkipSignal{Kind: SkipFatal, Message: fmt.Sprintf(format, args...)}
	if g.fatal == nil {
		g.fatal = sig
	}
	return sig
}

// WarnIf raises an advisory signal when cond is true. The migration is then
// recorded as applied without running the rest of the handler.
func (g *SkipGuard) WarnIf(cond bool, format string, args ...any) error {
	if !cond {
		return nil
	}
	sig := &SkipSignal{Kind: SkipAdvisory, Message: fmt.Sprintf(format, args...)}
	if g.advisory == nil {
		g.advisory = sig
	}
	g.warnings = append(g.warnings, sig.Message)
	return sig
}

// Fatal returns the first fatal signal raised, if any.
func (g *SkipGuard) Fatal() *SkipSignal {
	return g.fatal
}

// Raised returns the signal that ended the handler: the fatal one if any,
// else the first advisory one. Nil means the handler may keep going.
func (g *SkipGuard) Raised() *SkipSignal {
	if g == nil {
		return nil
	}
	if g.fatal != nil {
		return g.fatal
	}
	return g.advisory
}

// Warnings returns the messages of every advisory signal raised.
func (g *SkipGuard) Warnings() []string {
	return g.warnings
}
