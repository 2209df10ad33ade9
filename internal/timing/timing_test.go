package timing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type scanRow struct {
	values []any
}

func (r scanRow) Scan(dest ...any) error {
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = r.values[i].(int64)
		case *float64:
			*p = r.values[i].(float64)
		}
	}
	return nil
}

type recordingDB struct {
	execArgs []any
	row      scanRow
}

func (d *recordingDB) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	d.execArgs = args
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (d *recordingDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (d *recordingDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return d.row
}

func TestStartRun(t *testing.T) {
	db := &recordingDB{row: scanRow{values: []any{int64(42)}}}
	id, err := NewRecorder(db).StartRun(context.Background(), "corr", "github")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected id 42, got %d", id)
	}
}

func TestFinishRunStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status string
		text   string
	}{
		{"success", nil, StatusSucceeded, ""},
		{"failure", errors.New("boom"), StatusFailed, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &recordingDB{}
			err := NewRecorder(db).FinishRun(context.Background(), 7, Outcome{
				PatternsStored: 3,
				Duration:       1500 * time.Millisecond,
				Err:            tt.err,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if db.execArgs[1] != tt.status || db.execArgs[7] != tt.text {
				t.Fatalf("unexpected args %v", db.execArgs)
			}
			if db.execArgs[5] != int64(1500) {
				t.Fatalf("expected duration in ms, got %v", db.execArgs[5])
			}
		})
	}
}

func TestPredictDuration(t *testing.T) {
	db := &recordingDB{row: scanRow{values: []any{float64(2500)}}}
	d, err := NewRecorder(db).PredictDuration(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s, got %v", d)
	}
}
