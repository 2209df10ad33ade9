// Package leaselock provides a Postgres-backed lease so that only one process
// at a time runs a job such as a catalog ingestion. A lease expires unless
// its holder keeps renewing it, so a crashed holder releases it eventually.
package leaselock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger"
)

// IngestKey guards catalog ingestion.
const IngestKey = "mitre-ingest"

var (
	ErrBusy = errors.New("lease lock busy")
	ErrLost = errors.New("lease lock lost")
)

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Client struct {
	db dbConn
}

type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	// Wait polls until the lease frees up instead of returning ErrBusy.
	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	// Owner is prepended to the random token, e.g. the worker name.
	Owner string
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Second)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 250 * time.Millisecond
	}
	if o.WaitJitter < 0 {
		o.WaitJitter = 0
	}
	return o
}

// Lease is a held lock. Its Context is cancelled when the lease is released
// or lost; the cause is ErrLost in the latter case.
type Lease struct {
	Name  string
	Owner string

	Context context.Context

	client *Client
	cancel context.CancelCauseFunc
	ttl    time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Holder describes who currently holds a lease.
type Holder struct {
	Owner     string
	ExpiresAt time.Time
}

func New(db dbConn) *Client {
	return &Client{db: db}
}

// WithLease runs fn while holding the lease name. fn receives the lease
// context and must stop when it is cancelled.
func (c *Client) WithLease(ctx context.Context, name string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, name, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			logger.Warn("[Lease] Failed to release lease", "name", name, "err", err)
		}
	}()

	err = fn(lease.Context)
	if cause := context.Cause(lease.Context); errors.Is(cause, ErrLost) {
		return errors.Join(err, ErrLost)
	}
	return err
}

func (c *Client) Acquire(ctx context.Context, name string, opts Options) (*Lease, error) {
	if name == "" {
		return nil, errors.New("lease lock name is empty")
	}
	opts = opts.withDefaults()

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	owner := opts.Owner + id

	for {
		ok, err := c.tryAcquire(ctx, name, owner, opts.TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lease %s: %w", name, err)
		}
		if ok {
			break
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		if err := sleepWithJitter(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	logger.Debug("[Lease] Acquired", "name", name, "owner", owner)

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Name:    name,
		Owner:   owner,
		Context: leaseCtx,
		client:  c,
		cancel:  cancel,
		ttl:     opts.TTL,
		stopCh:  make(chan struct{}),
	}
	go l.renewLoop(opts.RenewEvery)

	return l, nil
}

// Holder reports the current holder of name. ok is false when the lease is
// free or expired.
func (c *Client) Holder(ctx context.Context, name string) (Holder, bool, error) {
	var h Holder
	err := c.db.QueryRow(ctx, holderSQL, name).Scan(&h.Owner, &h.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Holder{}, false, nil
	}
	if err != nil {
		return Holder{}, false, err
	}
	return h, true, nil
}

func (c *Client) tryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	var got string
	err := c.db.QueryRow(ctx, tryAcquireSQL, name, owner, ttl.Milliseconds()).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return got != "", nil
}

// Release gives the lease up. Calling it more than once is harmless.
func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cancel(context.Canceled)
	})

	_, err := l.client.db.Exec(ctx, releaseSQL, l.Name, l.Owner)
	return err
}

func (l *Lease) renewLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
			if err := l.renew(); err != nil {
				logger.Error("[Lease] Lost lease", "name", l.Name, "err", err)
				l.cancel(ErrLost)
				return
			}
		}
	}
}

// renew extends the lease, retrying transient failures twice.
func (l *Lease) renew() error {
	const attempts = 3
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		ctx, cancel := context.WithTimeout(l.Context, 15*time.Second)
		var got string
		err := l.client.db.QueryRow(ctx, renewSQL, l.Name, l.Owner, l.ttl.Milliseconds()).Scan(&got)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLost
		}
		lastErr = err
		if err := sleepWithJitter(l.Context, 200*time.Millisecond, 0); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const tryAcquireSQL = `
INSERT INTO app_locks (name, owner, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (name) DO UPDATE
SET owner      = EXCLUDED.owner,
    expires_at = EXCLUDED.expires_at
WHERE app_locks.expires_at < now()
   OR app_locks.owner = EXCLUDED.owner
RETURNING name;
`

const renewSQL = `
UPDATE app_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE name = $1 AND owner = $2
RETURNING name;
`

const releaseSQL = `
DELETE FROM app_locks
WHERE name = $1 AND owner = $2;
`

const holderSQL = `
SELECT owner, expires_at FROM app_locks
WHERE name = $1 AND expires_at >= now();
`
