package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shiran1989/magshimim-cyber-homework/internal/timing"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/leaselock"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/mitre"
)

type leaser interface {
	WithLease(ctx context.Context, name string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

type runRecorder interface {
	StartRun(ctx context.Context, correlationID, source string) (int64, error)
	FinishRun(ctx context.Context, id int64, o timing.Outcome) error
}

type bundleArchiver interface {
	PutBundle(ctx context.Context, correlationID string, data []byte) (string, error)
}

// IngestProcessor runs ingestion requests taken from IngestQueue.
type IngestProcessor struct {
	Store   mitre.PatternWriter
	Locks   leaser
	Runs    runRecorder
	Archive bundleArchiver

	// NewFetcher builds the GitHub source; tests point it at a fake server.
	NewFetcher func() mitre.Source

	LeaseOptions leaselock.Options
}

// ProcessIngestMessage handles one message body. A request that arrives while
// another ingestion holds the lease is dropped, since that ingestion already
// refreshes the catalog. Archive failures are logged and do not fail the run.
func (p *IngestProcessor) ProcessIngestMessage(ctx context.Context, body []byte) error {
	var msg IngestMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("invalid ingest message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	src, err := p.source(msg)
	if err != nil {
		return err
	}

	err = p.Locks.WithLease(ctx, leaselock.IngestKey, p.LeaseOptions, func(ctx context.Context) error {
		return p.run(ctx, msg, src)
	})
	if errors.Is(err, leaselock.ErrBusy) {
		logger.Info("[Queue] Ingestion already running, dropping request", "correlation_id", msg.CorrelationID)
		return nil
	}
	return err
}

func (p *IngestProcessor) run(ctx context.Context, msg IngestMsg, src mitre.Source) error {
	runID, err := p.Runs.StartRun(ctx, msg.CorrelationID, src.Name())
	if err != nil {
		return err
	}

	report, ingestErr := mitre.Ingest(ctx, src, p.Store, "bundle--"+msg.CorrelationID)

	outcome := timing.Outcome{Err: ingestErr}
	if report != nil {
		outcome.FilesListed = report.FilesListed
		outcome.FilesFailed = report.FilesFailed
		outcome.PatternsStored = report.Stored
		outcome.Duration = report.Duration

		if len(report.Bundle) > 0 && p.Archive != nil {
			key, err := p.Archive.PutBundle(ctx, msg.CorrelationID, report.Bundle)
			if err != nil {
				logger.Warn("[Queue] Failed to archive bundle", "correlation_id", msg.CorrelationID, "err", err)
			} else {
				outcome.ArchiveKey = key
			}
		}
	}

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.Runs.FinishRun(finishCtx, runID, outcome); err != nil {
		logger.Warn("[Queue] Failed to record run outcome", "run_id", runID, "err", err)
	}

	return ingestErr
}

func (p *IngestProcessor) source(msg IngestMsg) (mitre.Source, error) {
	switch msg.Source {
	case SourceFile:
		return mitre.FileSource{Path: msg.Path}, nil
	case SourceGitHub:
		if p.NewFetcher != nil {
			return p.NewFetcher(), nil
		}
		return mitre.NewFetcher(), nil
	}
	return nil, fmt.Errorf("unknown ingest source %q", msg.Source)
}
