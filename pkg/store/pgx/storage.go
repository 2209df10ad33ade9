package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shiran1989/magshimim-cyber-homework/pkg/attack"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// minFullTextQuery is the shortest query sent to full-text search.
const minFullTextQuery = 3

const insertChunkSize = 500

// PatternDBStorage implements store.PatternStorage on PostgreSQL.
type PatternDBStorage struct {
	conn      pgxIConn
	chunkSize int
}

var _ store.PatternStorage = (*PatternDBStorage)(nil)

type PatternDBStorageOption func(*PatternDBStorage)

// WithChunkSize sets how many rows ReplacePatterns sends per batch.
func WithChunkSize(n int) PatternDBStorageOption {
	return func(s *PatternDBStorage) {
		s.chunkSize = n
	}
}

// NewPatternDBStorage wraps an existing connection or pool.
func NewPatternDBStorage(conn pgxIConn, opts ...PatternDBStorageOption) *PatternDBStorage {
	s := &PatternDBStorage{
		conn:      conn,
		chunkSize: insertChunkSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

const patternColumns = `id, name, description, platforms, detection, phase_name, external_id,
	kill_chain_phases, external_references, created_at, modified_at,
	domains, data_sources, version, is_subtechnique, deprecated, attack_spec_version`

func (s *PatternDBStorage) ListPatterns(ctx context.Context, limit, offset int) ([]attack.AttackPattern, int, error) {
	total, err := s.CountPatterns(ctx)
	if err != nil {
		return nil, 0, err
	}
	patterns, err := s.queryPatterns(ctx,
		`SELECT `+patternColumns+` FROM attack_patterns ORDER BY seq LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list patterns: %w", err)
	}
	return patterns, total, nil
}

func (s *PatternDBStorage) SearchPatterns(ctx context.Context, query string, limit, offset int) ([]attack.AttackPattern, int, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.ListPatterns(ctx, limit, offset)
	}

	if len([]rune(query)) >= minFullTextQuery {
		patterns, total, err := s.fullTextSearch(ctx, query, limit, offset)
		if err != nil {
			logger.Warn("[Store] Full-text search failed, using substring match", "query", query, "err", err)
		} else if len(patterns) > 0 {
			return patterns, total, nil
		}
	}

	return s.substringSearch(ctx, query, limit, offset)
}

func (s *PatternDBStorage) fullTextSearch(ctx context.Context, query string, limit, offset int) ([]attack.AttackPattern, int, error) {
	var total int
	err := s.conn.QueryRow(ctx,
		`SELECT count(*) FROM attack_patterns WHERE search_vector @@ plainto_tsquery('english', $1)`,
		query).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, nil
	}

	patterns, err := s.queryPatterns(ctx,
		`SELECT `+patternColumns+` FROM attack_patterns
		WHERE search_vector @@ plainto_tsquery('english', $1)
		ORDER BY ts_rank(search_vector, plainto_tsquery('english', $1)) DESC, seq
		LIMIT $2 OFFSET $3`,
		query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return patterns, total, nil
}

const substringFilter = `
	name ILIKE $1 OR description ILIKE $1 OR detection ILIKE $1
	OR phase_name ILIKE $1 OR external_id ILIKE $1
	OR version ILIKE $1 OR attack_spec_version ILIKE $1
	OR EXISTS (SELECT 1 FROM unnest(platforms) AS p WHERE p ILIKE $1)
	OR EXISTS (SELECT 1 FROM unnest(domains) AS d WHERE d ILIKE $1)
	OR EXISTS (SELECT 1 FROM unnest(data_sources) AS ds WHERE ds ILIKE $1)
	OR EXISTS (SELECT 1 FROM jsonb_array_elements(kill_chain_phases) AS k WHERE k->>'phase_name' ILIKE $1)
	OR EXISTS (SELECT 1 FROM jsonb_array_elements(external_references) AS r
		WHERE r->>'source_name' ILIKE $1 OR r->>'external_id' ILIKE $1)`

func (s *PatternDBStorage) substringSearch(ctx context.Context, query string, limit, offset int) ([]attack.AttackPattern, int, error) {
	pattern := "%" + store.EscapeLike(query) + "%"

	var total int
	err := s.conn.QueryRow(ctx,
		`SELECT count(*) FROM attack_patterns WHERE `+substringFilter,
		pattern).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count search results: %w", err)
	}

	patterns, err := s.queryPatterns(ctx,
		`SELECT `+patternColumns+` FROM attack_patterns WHERE `+substringFilter+`
		ORDER BY seq LIMIT $2 OFFSET $3`,
		pattern, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search patterns: %w", err)
	}
	return patterns, total, nil
}

func (s *PatternDBStorage) GetPattern(ctx context.Context, id string) (*attack.AttackPattern, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT `+patternColumns+` FROM attack_patterns WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern %s: %w", id, err)
	}
	p, err := pgxv5.CollectExactlyOneRow(rows, scanPattern)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern %s: %w", id, err)
	}
	return &p, nil
}

func (s *PatternDBStorage) CountPatterns(ctx context.Context) (int, error) {
	var total int
	if err := s.conn.QueryRow(ctx, `SELECT count(*) FROM attack_patterns`).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count patterns: %w", err)
	}
	return total, nil
}

func (s *PatternDBStorage) Stats(ctx context.Context) (*attack.StatsResponse, error) {
	total, err := s.CountPatterns(ctx)
	if err != nil {
		return nil, err
	}
	phases, err := s.buckets(ctx,
		`SELECT phase_name, count(*) FROM attack_patterns
		GROUP BY phase_name ORDER BY count(*) DESC, phase_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate phases: %w", err)
	}
	platforms, err := s.buckets(ctx,
		`SELECT p, count(*) FROM attack_patterns, unnest(platforms) AS p
		GROUP BY p ORDER BY count(*) DESC, p`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate platforms: %w", err)
	}
	return &attack.StatsResponse{
		TotalPatterns:        total,
		PhaseDistribution:    phases,
		PlatformDistribution: platforms,
	}, nil
}

func (s *PatternDBStorage) buckets(ctx context.Context, sql string) ([]attack.Bucket, error) {
	rows, err := s.conn.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (attack.Bucket, error) {
		var b attack.Bucket
		err := row.Scan(&b.ID, &b.Count)
		return b, err
	})
}

// ReplacePatterns deletes the current catalog and inserts patterns in batches,
// all inside one transaction, so readers never see a partial catalog.
func (s *PatternDBStorage) ReplacePatterns(ctx context.Context, patterns []attack.AttackPattern) (int, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM attack_patterns`); err != nil {
		return 0, fmt.Errorf("failed to clear patterns: %w", err)
	}

	logger.Debug("[Store] Inserting patterns", "patterns", len(patterns))

	err = store.ChunkRange(len(patterns), s.chunkSize, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for _, p := range patterns[start:end] {
			args, err := insertArgs(p)
			if err != nil {
				return err
			}
			batch.Queue(`INSERT INTO attack_patterns (`+patternColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10, $11, $12, $13, $14, $15, $16, $17)
				ON CONFLICT (id) DO UPDATE SET
					name = EXCLUDED.name,
					description = EXCLUDED.description,
					platforms = EXCLUDED.platforms,
					detection = EXCLUDED.detection,
					phase_name = EXCLUDED.phase_name,
					external_id = EXCLUDED.external_id,
					kill_chain_phases = EXCLUDED.kill_chain_phases,
					external_references = EXCLUDED.external_references,
					created_at = EXCLUDED.created_at,
					modified_at = EXCLUDED.modified_at,
					domains = EXCLUDED.domains,
					data_sources = EXCLUDED.data_sources,
					version = EXCLUDED.version,
					is_subtechnique = EXCLUDED.is_subtechnique,
					deprecated = EXCLUDED.deprecated,
					attack_spec_version = EXCLUDED.attack_spec_version`,
				args...)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert patterns: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit patterns: %w", err)
	}
	return len(patterns), nil
}

func (s *PatternDBStorage) queryPatterns(ctx context.Context, sql string, args ...any) ([]attack.AttackPattern, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	patterns, err := pgxv5.CollectRows(rows, scanPattern)
	if err != nil {
		return nil, err
	}
	if patterns == nil {
		patterns = []attack.AttackPattern{}
	}
	return patterns, nil
}

func scanPattern(row pgxv5.CollectableRow) (attack.AttackPattern, error) {
	var (
		p          attack.AttackPattern
		killChain  []byte
		references []byte
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Platforms, &p.Detection, &p.PhaseName, &p.ExternalID,
		&killChain, &references, &p.CreatedAt, &p.ModifiedAt,
		&p.Domains, &p.DataSources, &p.Version, &p.IsSubtechnique, &p.Deprecated, &p.AttackSpecVersion,
	)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(killChain, &p.KillChainPhases); err != nil {
		return p, fmt.Errorf("invalid kill_chain_phases for %s: %w", p.ID, err)
	}
	if err := json.Unmarshal(references, &p.ExternalReferences); err != nil {
		return p, fmt.Errorf("invalid external_references for %s: %w", p.ID, err)
	}
	return p, nil
}

func insertArgs(p attack.AttackPattern) ([]any, error) {
	killChain, err := json.Marshal(nonNil(p.KillChainPhases))
	if err != nil {
		return nil, err
	}
	references, err := json.Marshal(nonNil(p.ExternalReferences))
	if err != nil {
		return nil, err
	}
	return []any{
		p.ID, p.Name, p.Description, nonNil(p.Platforms), p.Detection, p.PhaseName, p.ExternalID,
		string(killChain), string(references), p.CreatedAt, p.ModifiedAt,
		nonNil(p.Domains), nonNil(p.DataSources), p.Version, p.IsSubtechnique, p.Deprecated, p.AttackSpecVersion,
	}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
