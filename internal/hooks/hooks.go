// Package hooks defines the post-archive extension point. External
// automations (notes export, sync commits) are collaborators outside this
// service; they plug in behind Archiver and default to a no-op.
package hooks

import (
	"context"
	"log"
)

// Archiver is notified after a session and its chunks have been persisted.
// Implementations must not block ingestion on slow downstreams.
type Archiver interface {
	SessionArchived(ctx context.Context, sessionID, title, url string) error
}

// Nop is the default Archiver.
type Nop struct{}

func (Nop) SessionArchived(context.Context, string, string, string) error { return nil }

// LogArchiver records archive events; useful in development.
type LogArchiver struct {
	Logger *log.Logger
}

func (a LogArchiver) SessionArchived(_ context.Context, sessionID, title, url string) error {
	logger := a.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[HOOK] ", log.LstdFlags)
	}
	logger.Printf("archived session %s (%q, %s)", sessionID, title, url)
	return nil
}

// ForName resolves the configured archiver name to an implementation.
// Unknown names fall back to the no-op.
func ForName(name string) Archiver {
	switch name {
	case "log":
		return LogArchiver{}
	default:
		return Nop{}
	}
}
