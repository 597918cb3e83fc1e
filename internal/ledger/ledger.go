// Package ledger keeps a SQLite record of pipeline runs, per-day outcomes,
// and published files.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout is fixed-width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Ledger is safe for concurrent use.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the ledger database at path and applies
// pending migrations.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set ledger pragmas: %w", err)
	}
	l := &Ledger{db: db, logger: logger}
	if err := l.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrateUp() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(l.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// m is not closed: closing it would close the shared connection pool.
	m.Log = &migrateLogger{logger: l.logger}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct {
	logger *slog.Logger
}

func (m *migrateLogger) Printf(format string, v ...any) {
	m.logger.Debug("migrate: " + fmt.Sprintf(format, v...))
}

func (m *migrateLogger) Verbose() bool { return false }

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Ping checks the database connection.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// StartRun inserts a run row.
func (l *Ledger) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	_, err := sq.Insert("runs").
		Columns("run_id", "started_at").
		Values(runID, startedAt.UTC().Format(timeLayout)).
		RunWith(l.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", runID, err)
	}
	return nil
}

// RecordPublication stores a published file. A second publication for the
// same run and day replaces the first.
func (l *Ledger) RecordPublication(ctx context.Context, pub domain.Publication) error {
	_, err := sq.Insert("publications").
		Columns("run_id", "day", "bucket", "object_key", "alias_key", "records", "highlighted", "bytes", "published_at").
		Values(pub.RunID, string(pub.Day), pub.Bucket, pub.ObjectKey, pub.AliasKey, pub.Records, pub.Highlighted, pub.Bytes,
			pub.PublishedAt.UTC().Format(timeLayout)).
		Suffix(`ON CONFLICT (run_id, day) DO UPDATE SET
			bucket = excluded.bucket,
			object_key = excluded.object_key,
			alias_key = excluded.alias_key,
			records = excluded.records,
			highlighted = excluded.highlighted,
			bytes = excluded.bytes,
			published_at = excluded.published_at`).
		RunWith(l.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("insert publication %s: %w", pub.ObjectKey, err)
	}
	return nil
}

// FinishRun stores the day outcomes and closes the run row.
func (l *Ledger) FinishRun(ctx context.Context, summary domain.RunSummary) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range summary.Days {
		_, err := sq.Insert("day_outcomes").
			Columns("run_id", "day", "published", "error", "duration_ms").
			Values(summary.RunID, string(d.Day), d.Published, d.Error, d.Duration.Milliseconds()).
			Suffix(`ON CONFLICT (run_id, day) DO UPDATE SET
				published = excluded.published,
				error = excluded.error,
				duration_ms = excluded.duration_ms`).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("insert outcome %s: %w", d.Day, err)
		}
	}

	res, err := sq.Update("runs").
		Set("finished_at", summary.FinishedAt.UTC().Format(timeLayout)).
		Set("succeeded", summary.Succeeded()).
		Set("failed", summary.Failed()).
		Where(sq.Eq{"run_id": summary.RunID}).
		RunWith(tx).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("update run %s: %w", summary.RunID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update run %s: run not started", summary.RunID)
	}
	return tx.Commit()
}

// RecentRuns returns up to limit runs, newest first, with their day outcomes
// and publications.
func (l *Ledger) RecentRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	rows, err := sq.Select("run_id", "started_at", "COALESCE(finished_at, '')").
		From("runs").
		OrderBy("started_at DESC").
		Limit(uint64(max(limit, 1))).
		RunWith(l.db).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunSummary
	for rows.Next() {
		var s domain.RunSummary
		var started, finished string
		if err := rows.Scan(&s.RunID, &started, &finished); err != nil {
			return nil, err
		}
		if s.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if s.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		runs = append(runs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		if runs[i].Days, err = l.dayOutcomes(ctx, runs[i].RunID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (l *Ledger) dayOutcomes(ctx context.Context, runID string) ([]domain.DayOutcome, error) {
	pubs, err := l.publications(ctx, runID)
	if err != nil {
		return nil, err
	}

	rows, err := sq.Select("day", "published", "error", "duration_ms").
		From("day_outcomes").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("day").
		RunWith(l.db).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query outcomes for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []domain.DayOutcome
	for rows.Next() {
		var d domain.DayOutcome
		var day string
		var ms int64
		if err := rows.Scan(&day, &d.Published, &d.Error, &ms); err != nil {
			return nil, err
		}
		d.Day = domain.DayLabel(day)
		d.Duration = time.Duration(ms) * time.Millisecond
		if p, ok := pubs[d.Day]; ok {
			d.Publication = &p
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (l *Ledger) publications(ctx context.Context, runID string) (map[domain.DayLabel]domain.Publication, error) {
	rows, err := sq.Select("day", "bucket", "object_key", "alias_key", "records", "highlighted", "bytes", "published_at").
		From("publications").
		Where(sq.Eq{"run_id": runID}).
		RunWith(l.db).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query publications for %s: %w", runID, err)
	}
	defer rows.Close()

	out := make(map[domain.DayLabel]domain.Publication)
	for rows.Next() {
		p := domain.Publication{RunID: runID}
		var day, published string
		if err := rows.Scan(&day, &p.Bucket, &p.ObjectKey, &p.AliasKey, &p.Records, &p.Highlighted, &p.Bytes, &published); err != nil {
			return nil, err
		}
		p.Day = domain.DayLabel(day)
		if p.PublishedAt, err = parseTime(published); err != nil {
			return nil, err
		}
		out[p.Day] = p
	}
	return out, rows.Err()
}

// LatestPublication returns the newest publication for day, if any.
func (l *Ledger) LatestPublication(ctx context.Context, day domain.DayLabel) (domain.Publication, bool, error) {
	var p domain.Publication
	var published string
	err := sq.Select("run_id", "bucket", "object_key", "alias_key", "records", "highlighted", "bytes", "published_at").
		From("publications").
		Where(sq.Eq{"day": string(day)}).
		OrderBy("published_at DESC").
		Limit(1).
		RunWith(l.db).
		QueryRowContext(ctx).
		Scan(&p.RunID, &p.Bucket, &p.ObjectKey, &p.AliasKey, &p.Records, &p.Highlighted, &p.Bytes, &published)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Publication{}, false, nil
	}
	if err != nil {
		return domain.Publication{}, false, fmt.Errorf("query latest publication for %s: %w", day, err)
	}
	p.Day = day
	if p.PublishedAt, err = parseTime(published); err != nil {
		return domain.Publication{}, false, err
	}
	return p, true, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse ledger time %q: %w", s, err)
	}
	return t, nil
}
