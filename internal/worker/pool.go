// Package worker runs the email processing pipeline: fetch, parse,
// classify, persist, fanned out over a bounded worker pool.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/stayontop/mailtriage/internal/gmail"
	"github.com/stayontop/mailtriage/internal/instrumentation"
	"github.com/stayontop/mailtriage/internal/llm"
)

// Analyzer classifies a parsed email.
type Analyzer interface {
	Analyze(ctx context.Context, email *gmail.Email) llm.Analysis
}

// Saver persists a parsed email with an optional classification.
type Saver interface {
	Save(ctx context.Context, email *gmail.Email, analysis *llm.Analysis) (bool, error)
}

// Fetcher produces raw messages to process.
type Fetcher interface {
	RecentMessages(ctx context.Context, days int, maxResults int64, query string) ([]*gmailapi.Message, error)
}

// Result summarizes one pipeline run.
type Result struct {
	Fetched   int `json:"total_fetched"`
	Processed int `json:"processed_count"`
	Skipped   int `json:"skipped_count"`
	Failed    int `json:"errors_count"`
}

// Pool processes mailbox messages with a fixed number of workers.
type Pool struct {
	workers  int
	parser   *gmail.Parser
	analyzer Analyzer
	saver    Saver
	logger   *slog.Logger
}

// New creates a pool. A nil analyzer stores emails unclassified.
func New(workers int, analyzer Analyzer, saver Saver) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		workers:  workers,
		parser:   gmail.NewParser(),
		analyzer: analyzer,
		saver:    saver,
		logger:   slog.Default(),
	}
}

// SetLogger sets a custom logger for the pool.
func (p *Pool) SetLogger(logger *slog.Logger) {
	if logger != nil {
		p.logger = logger
		p.parser.SetLogger(logger)
	}
}

// Process fetches recent messages for identity and runs each through
// parse, classify and persist. Per-message failures are counted, not
// fatal; only the initial fetch can fail the run.
func (p *Pool) Process(ctx context.Context, fetcher Fetcher, identity string, days int, maxResults int64, query string) (Result, error) {
	attrs := instrumentation.NewSpanAttributeBuilder().
		WithUser(identity).
		Build()
	ctx, span := instrumentation.StartOperationSpan(ctx, instrumentation.OperationFetchEmails, attrs...)
	defer span.End()

	messages, err := fetcher.RecentMessages(ctx, days, maxResults, query)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return Result{}, err
	}
	instrumentation.AddSpanEvent(span, "messages fetched",
		attribute.Int("count", len(messages)))

	var mu sync.Mutex
	result := Result{Fetched: len(messages)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, msg := range messages {
		msg := msg
		g.Go(func() error {
			outcome := p.processOne(gctx, msg, identity)
			mu.Lock()
			switch outcome {
			case outcomeProcessed:
				result.Processed++
			case outcomeSkipped:
				result.Skipped++
			case outcomeFailed:
				result.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; Wait only observes cancellation.
	g.Wait()
	if err := ctx.Err(); err != nil {
		instrumentation.SetSpanError(span, err)
		return result, err
	}
	instrumentation.SetSpanSuccess(span)
	return result, nil
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (p *Pool) processOne(ctx context.Context, msg *gmailapi.Message, identity string) outcome {
	email := p.parser.Parse(msg, identity)
	if email == nil {
		return outcomeFailed
	}

	var analysis *llm.Analysis
	if p.analyzer != nil {
		a := p.analyzer.Analyze(ctx, email)
		analysis = &a
	}

	inserted, err := p.saver.Save(ctx, email, analysis)
	if err != nil {
		p.logger.Warn("failed to persist email",
			slog.String("message_id", email.ID),
			slog.String("error", err.Error()))
		return outcomeFailed
	}
	if !inserted {
		return outcomeSkipped
	}
	return outcomeProcessed
}
