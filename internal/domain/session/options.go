package session

import (
	"github.com/okian/facequiz/internal/domain/precache"
	"github.com/okian/facequiz/pkg/logger"
)

// Option applies a configuration option to the Orchestrator.
type Option func(*Orchestrator)

// WithQuestionsPerSession sets the precache window opened on the first question.
func WithQuestionsPerSession(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.questionsPerSession = n
		}
	}
}

// WithPrecacher enables precaching of the session window.
func WithPrecacher(p Precacher) Option {
	return func(o *Orchestrator) {
		o.precacher = p
	}
}

// WithTable sets the precache table shared with the owning run.
func WithTable(t *precache.Table) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.table = t
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}
