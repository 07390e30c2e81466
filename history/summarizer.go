// Package history keeps per-participant context logs bounded while
// preserving salience. When a context log grows past its trigger the
// Summarizer collapses everything but a trailing keep-window into a single
// leading synopsis entry; the global transcript is never touched.
package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/stagecast/stagecast/core"
	"github.com/stagecast/stagecast/logging"
	"github.com/stagecast/stagecast/model"
)

// Options configure a Summarizer.
type Options struct {
	// MaxMessagesBeforeSummary triggers condensation once exceeded.
	MaxMessagesBeforeSummary int
	// MessagesToKeepAfterSummary is the trailing window kept verbatim.
	MessagesToKeepAfterSummary int
	// Logger receives condensation outcomes.
	Logger logging.Logger
}

// Summarizer condenses context logs with one model call per cycle.
// Condensation is lossy and one-directional: summarized entries are only
// recoverable from the global log.
type Summarizer struct {
	invoker model.Invoker
	opts    Options
}

// New creates a Summarizer backed by the given model invoker.
func New(invoker model.Invoker, optFns ...func(o *Options)) *Summarizer {
	opts := Options{
		MaxMessagesBeforeSummary:   20,
		MessagesToKeepAfterSummary: 10,
		Logger:                     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Summarizer{invoker: invoker, opts: opts}
}

// Condense returns the bounded form of the given context log. Below the
// trigger the input is returned unchanged. Above it, the result is
// [synopsis] + the last MessagesToKeepAfterSummary entries; an existing
// leading synopsis is folded into the new one. If the model call fails the
// log is truncated to the keep-window plus five entries instead, so the log
// stays bounded even under model failure.
func (s *Summarizer) Condense(ctx context.Context, msgs []core.Message) []core.Message {
	if len(msgs) <= s.opts.MaxMessagesBeforeSummary {
		return msgs
	}
	keep := s.opts.MessagesToKeepAfterSummary
	if keep >= len(msgs) {
		// A keep-window at or above the trigger still condenses at least
		// one entry.
		keep = len(msgs) - 1
	}

	var existing string
	var toSummarize, kept []core.Message
	if msgs[0].IsSynopsis() {
		existing = msgs[0].Text
		toSummarize = msgs[1 : len(msgs)-keep]
	} else {
		toSummarize = msgs[:len(msgs)-keep]
	}
	kept = msgs[len(msgs)-keep:]

	synopsis, err := s.summarize(ctx, existing, toSummarize)
	if err != nil {
		s.opts.Logger.Warn("summarization failed, truncating context", "error", err)
		fallback := keep + 5
		if fallback > len(msgs) {
			fallback = len(msgs)
		}
		out := make([]core.Message, fallback)
		copy(out, msgs[len(msgs)-fallback:])
		return out
	}

	out := make([]core.Message, 0, keep+1)
	out = append(out, core.NewSynopsis(synopsis))
	out = append(out, kept...)
	return out
}

// summarize issues the single condensation model call.
func (s *Summarizer) summarize(ctx context.Context, existing string, msgs []core.Message) (string, error) {
	var b strings.Builder
	if existing != "" {
		fmt.Fprintf(&b, "Previous conversation summary: %s\n\nRecent conversation messages:\n", existing)
	} else {
		b.WriteString("Conversation messages to summarize:\n")
	}
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Speaker, m.Text)
	}
	b.WriteString("\nPlease provide a concise summary of the conversation above, capturing the key topics, main points discussed, and important context. Only return the summary text, nothing else.")

	text, err := s.invoker.Invoke(ctx, model.Request{Prompt: b.String()})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
