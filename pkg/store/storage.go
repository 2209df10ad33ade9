// Package store defines how attack patterns are persisted and queried.
package store

import (
	"context"
	"errors"

	"github.com/shiran1989/magshimim-cyber-homework/pkg/attack"
)

var ErrNotFound = errors.New("attack pattern not found")

// PatternStorage is implemented by pkg/store/pgx. Paging methods return the
// requested page together with the total number of matches.
type PatternStorage interface {
	ListPatterns(ctx context.Context, limit, offset int) ([]attack.AttackPattern, int, error)

	// SearchPatterns returns every pattern for a blank query. Queries longer
	// than two characters try full-text search first and fall back to a
	// case-insensitive substring match over all text fields.
	SearchPatterns(ctx context.Context, query string, limit, offset int) ([]attack.AttackPattern, int, error)

	GetPattern(ctx context.Context, id string) (*attack.AttackPattern, error)
	Stats(ctx context.Context) (*attack.StatsResponse, error)

	// ReplacePatterns swaps the whole catalog in one transaction.
	ReplacePatterns(ctx context.Context, patterns []attack.AttackPattern) (int, error)
	CountPatterns(ctx context.Context) (int, error)
}
