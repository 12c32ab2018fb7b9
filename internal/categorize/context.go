// Package categorize implements the rule-based email categorization
// pipeline: three independent analyzers (importance, date/size, label)
// behind a common Analyzer interface, combined by an Orchestrator into a
// final priority category and enrichment record.
package categorize

import (
	"time"

	"gmaildispatch/internal/rules"
	"gmaildispatch/internal/storage"
)

// Context is the immutable input to analysis for a single email. It is
// independent of both the Gmail wire format and the storage row shape.
type Context struct {
	UserID  string
	EmailID string
	Date    time.Time
	rules.EmailContext
}

// FromEmailIndex builds a Context from a persisted EmailIndex row. It
// returns an error if any field the analyzers require for a meaningful
// verdict is missing — the orchestrator must fail that email explicitly
// rather than silently defaulting.
func FromEmailIndex(userID string, e *storage.EmailIndex) (Context, error) {
	if e.Subject == "" && e.Snippet == "" {
		return Context{}, errMissingContent
	}
	if e.Sender == "" {
		return Context{}, errMissingSender
	}
	return Context{
		UserID:  userID,
		EmailID: e.ID,
		Date:    e.Date,
		EmailContext: rules.EmailContext{
			Sender:         e.Sender,
			Subject:        e.Subject,
			Snippet:        e.Snippet,
			Labels:         e.Labels,
			HasAttachments: e.HasAttachments,
			SizeBytes:      e.SizeBytes,
		},
	}, nil
}

type contextError string

func (e contextError) Error() string { return string(e) }

const (
	errMissingContent = contextError("email has neither subject nor snippet")
	errMissingSender  = contextError("email has no sender")
)
