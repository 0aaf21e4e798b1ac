package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bdobrica/memlake/common/retry"
)

// Summarizer condenses a batch transcript into a topic summary.
//
// Implementations must return an error rather than an empty Summary when
// they cannot produce one.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (Summary, error)
}

// Summary is the structured result of a summarization.
type Summary struct {
	Topic    string   `json:"topic"`
	Keywords []string `json:"keywords"`
	Detail   string   `json:"detail"`
}

var (
	// ErrEmptySummary marks a summarizer response without a usable topic or
	// detail.
	ErrEmptySummary = errors.New("memory: summarizer returned an empty summary")
	// ErrSummarizerExhausted is wrapped by SummaryError once every attempt
	// has failed.
	ErrSummarizerExhausted = errors.New("memory: summarizer attempts exhausted")
)

// SummaryError reports a summarization that failed after all attempts.
type SummaryError struct {
	Attempts int
	Last     error
}

func (e *SummaryError) Error() string {
	return fmt.Sprintf("memory: summarization failed after %d attempt(s): %v", e.Attempts, e.Last)
}

// Unwrap exposes both the exhaustion sentinel and the last cause.
func (e *SummaryError) Unwrap() []error { return []error{ErrSummarizerExhausted, e.Last} }

// Summarizer retry limits.
const (
	MaxSummaryAttempts     = 3
	DefaultSummaryBackoff  = 2 * time.Second
	DefaultSummaryTimeout  = 60 * time.Second
	maxTopicRunes          = 40
	minTopicRunes          = 2
	fallbackDetailRunes    = 60
	fallbackDetailMaxTurns = 6
)

// summaryPolicy is the retry policy applied around a Summarizer.
type summaryPolicy struct {
	attempts int
	backoff  time.Duration
	timeout  time.Duration
	onResult func(ok bool)
}

// summarize calls s until it yields a valid summary or the policy is spent.
// Each attempt runs under its own timeout. Missing keywords are filled from
// vocab.
func (p summaryPolicy) summarize(ctx context.Context, s Summarizer, text string, vocab *Vocabulary) (Summary, error) {
	attempts := p.attempts
	if attempts < 1 || attempts > MaxSummaryAttempts {
		attempts = MaxSummaryAttempts
	}
	timeout := p.timeout
	if timeout <= 0 {
		timeout = DefaultSummaryTimeout
	}

	var (
		out   Summary
		tries int
	)
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  attempts,
		InitialDelay: p.backoff,
		MaxDelay:     p.backoff,
		Backoff:      retry.Fixed,
	}, func() error {
		tries++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		sum, err := s.Summarize(attemptCtx, text)
		if err == nil {
			sum, err = validateSummary(sum)
		}
		if p.onResult != nil {
			p.onResult(err == nil)
		}
		if err != nil {
			return err
		}
		out = sum
		return nil
	})
	if err != nil {
		return Summary{}, &SummaryError{Attempts: tries, Last: err}
	}
	if len(out.Keywords) == 0 {
		out.Keywords = vocab.Extract(text)
	}
	return out, nil
}

// validateSummary trims the fields, bounds the topic length and rejects
// summaries without a topic or detail.
func validateSummary(s Summary) (Summary, error) {
	s.Topic = strings.Trim(strings.TrimSpace(s.Topic), `"'“”「」`)
	s.Detail = strings.TrimSpace(s.Detail)
	if utf8.RuneCountInString(s.Topic) < minTopicRunes || s.Detail == "" {
		return Summary{}, ErrEmptySummary
	}
	if utf8.RuneCountInString(s.Topic) > maxTopicRunes {
		s.Topic = string([]rune(s.Topic)[:maxTopicRunes])
	}
	s.Keywords = normaliseKeywords(s.Keywords)
	return s, nil
}

// degradedSummary builds the summary committed when summarization failed.
func degradedSummary(turns []Turn, vocab *Vocabulary) Summary {
	return Summary{
		Topic:    DegradedTopic,
		Keywords: vocab.Extract(transcript(turns)),
		Detail:   condensedDetail(turns),
	}
}

// condensedDetail renders a short per-turn digest of the batch.
func condensedDetail(turns []Turn) string {
	var b strings.Builder
	shown := turns
	if len(shown) > fallbackDetailMaxTurns {
		shown = shown[len(shown)-fallbackDetailMaxTurns:]
	}
	for i, t := range shown {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s -> %s", i+1, clip(t.UserText, fallbackDetailRunes), clip(t.AgentText, fallbackDetailRunes))
	}
	if omitted := len(turns) - len(shown); omitted > 0 {
		fmt.Fprintf(&b, "\n(%d earlier turn(s) omitted)", omitted)
	}
	return b.String()
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
