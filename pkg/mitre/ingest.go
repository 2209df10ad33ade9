package mitre

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/shiran1989/magshimim-cyber-homework/pkg/attack"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger"
)

// PatternWriter replaces the stored catalog.
type PatternWriter interface {
	ReplacePatterns(ctx context.Context, patterns []attack.AttackPattern) (int, error)
}

// Report summarises one ingestion.
type Report struct {
	Source      string
	FilesListed int
	FilesFailed int
	Patterns    int
	Stored      int
	Fallback    bool
	Duration    time.Duration

	// Bundle is the fetched STIX data re-encoded as one bundle, kept for
	// archiving. It is empty when the sample data was used.
	Bundle []byte
}

// Ingest fetches patterns from src and replaces the catalog in w with them.
func Ingest(ctx context.Context, src Source, w PatternWriter, bundleID string) (*Report, error) {
	start := time.Now()
	logger.Info("[Mitre] Starting ingestion", "source", src.Name())

	res, err := src.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch patterns: %w", err)
	}

	report := &Report{
		Source:      src.Name(),
		FilesListed: res.FilesListed,
		FilesFailed: res.FilesFailed,
		Fallback:    res.Fallback,
	}

	var patterns []attack.AttackPattern
	if res.Fallback {
		patterns = SamplePatterns()
	} else {
		patterns = Convert(res.Objects)

		var buf bytes.Buffer
		if err := EncodeBundle(&buf, bundleID, res.Objects); err != nil {
			return nil, fmt.Errorf("failed to encode bundle: %w", err)
		}
		report.Bundle = buf.Bytes()
	}
	report.Patterns = len(patterns)

	if len(patterns) == 0 {
		logger.Warn("[Mitre] No patterns were processed successfully")
		report.Duration = time.Since(start)
		return report, nil
	}

	stored, err := w.ReplacePatterns(ctx, patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to store patterns: %w", err)
	}
	report.Stored = stored
	report.Duration = time.Since(start)

	logger.Info("[Mitre] Ingestion completed", "stored", stored, "failed_files", report.FilesFailed, "fallback", report.Fallback, "duration", report.Duration)
	return report, nil
}
