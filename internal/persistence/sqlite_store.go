package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/translation-booking/internal/booking"
	_ "modernc.org/sqlite"
)

const defaultOpTimeout = 5 * time.Second

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore implements booking.Store on a single SQLite file. The
// conditional UPDATE guarded on current status is the compare-and-set
// the engine relies on; with a single writer connection the update is
// atomic with respect to concurrent transitions.
type SQLiteStore struct {
	db      *sql.DB
	timeout time.Duration
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithTimeout(path, defaultOpTimeout)
}

func NewSQLiteStoreWithTimeout(path string, timeout time.Duration) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	store := &SQLiteStore{db: db, timeout: timeout}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// opCtx bounds every store call so no operation can block
// indefinitely on a wedged database.
func (s *SQLiteStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

const jobColumns = `j.id, j.customer_id, j.from_language, j.to_language, j.notes, j.status,
	j.due_time, j.accepted_translator_id, j.admin_comments, j.flagged, j.manually_handled,
	j.by_admin, j.session_time, j.created_at, j.updated_at, d.distance, d.travel_time`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*booking.Job, error) {
	var (
		job        booking.Job
		status     string
		translator sql.NullInt64
		flagged    string
		manually   string
		byAdmin    string
		distance   sql.NullFloat64
		travelTime sql.NullString
	)
	if err := row.Scan(
		&job.ID,
		&job.CustomerID,
		&job.FromLanguage,
		&job.ToLanguage,
		&job.Notes,
		&status,
		&job.DueTime,
		&translator,
		&job.AdminComments,
		&flagged,
		&manually,
		&byAdmin,
		&job.SessionTime,
		&job.CreatedAt,
		&job.UpdatedAt,
		&distance,
		&travelTime,
	); err != nil {
		return nil, err
	}
	job.Status = booking.Status(status)
	job.Flagged = booking.YesNo(flagged)
	job.ManuallyHandled = booking.YesNo(manually)
	job.ByAdmin = booking.YesNo(byAdmin)
	if translator.Valid {
		job.AcceptedTranslatorID = &translator.Int64
	}
	if distance.Valid {
		job.Distance = &distance.Float64
	}
	if travelTime.Valid {
		job.TravelTime = travelTime.String
	}
	return &job, nil
}

func (s *SQLiteStore) Find(ctx context.Context, id int64) (*booking.Job, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+`
		 FROM jobs j
		 LEFT JOIN distances d ON d.job_id = j.id
		 WHERE j.id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, booking.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job %d: %w", id, err)
	}
	return job, nil
}

func (s *SQLiteStore) Create(ctx context.Context, draft booking.JobDraft) (*booking.Job, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var res sql.Result
	res, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (
			customer_id, from_language, to_language, notes, status, due_time, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		draft.CustomerID,
		draft.FromLanguage,
		draft.ToLanguage,
		draft.Notes,
		string(booking.StatusPending),
		draft.DueTime.UTC(),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	var id int64
	id, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}

	// The 1:1 distance record exists from day one so the distance feed
	// is always an update, never a conditional insert.
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO distances (job_id, updated_at) VALUES (?, ?)`, id, now); err != nil {
		return nil, fmt.Errorf("insert distance record: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create: %w", err)
	}
	return s.Find(ctx, id)
}

func (s *SQLiteStore) ConditionalTransition(ctx context.Context, id int64, expected []booking.Status, next booking.Status, fields booking.TransitionFields) (*booking.Job, error) {
	if len(expected) == 0 {
		return nil, fmt.Errorf("expected status set is empty")
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	setClauses := []string{"status = ?", "updated_at = ?"}
	args := []any{string(next), time.Now().UTC()}

	switch {
	case fields.AcceptedTranslatorID != nil:
		setClauses = append(setClauses, "accepted_translator_id = ?")
		args = append(args, *fields.AcceptedTranslatorID)
	case fields.ClearTranslator:
		setClauses = append(setClauses, "accepted_translator_id = NULL")
	}
	if fields.SessionTime != nil {
		setClauses = append(setClauses, "session_time = ?")
		args = append(args, *fields.SessionTime)
	}
	if fields.DueTime != nil {
		setClauses = append(setClauses, "due_time = ?")
		args = append(args, fields.DueTime.UTC())
	}

	placeholders := strings.Repeat("?,", len(expected))
	placeholders = placeholders[:len(placeholders)-1]
	args = append(args, id)
	for _, st := range expected {
		args = append(args, string(st))
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET `+strings.Join(setClauses, ", ")+`
		 WHERE id = ? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("transition job %d to %s: %w", id, next, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("transition job %d rows: %w", id, err)
	}
	if affected == 0 {
		// Distinguish a lost CAS from a missing job.
		if _, err := s.Find(ctx, id); err != nil {
			return nil, err
		}
		return nil, booking.ErrStatusConflict
	}
	return s.Find(ctx, id)
}

func (s *SQLiteStore) UpdateFields(ctx context.Context, id int64, fields booking.FieldUpdate) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin field update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = applyJobDetails(ctx, tx, id, fields); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateDistanceAndDetails(ctx context.Context, id int64, distance booking.DistanceUpdate, details booking.FieldUpdate) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin distance feed: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO distances (job_id, distance, travel_time, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET
			distance=excluded.distance,
			travel_time=excluded.travel_time,
			updated_at=excluded.updated_at`,
		id,
		nullableFloat(distance.Distance),
		stringOrEmpty(distance.TravelTime),
		now,
	); err != nil {
		return fmt.Errorf("update distance record %d: %w", id, err)
	}

	if err = applyJobDetails(ctx, tx, id, details); err != nil {
		return err
	}
	return tx.Commit()
}

// applyJobDetails writes the metadata columns inside the caller's
// transaction. Reports booking.ErrJobNotFound when the job is missing
// so the whole transaction rolls back.
func applyJobDetails(ctx context.Context, tx *sql.Tx, id int64, fields booking.FieldUpdate) error {
	setClauses := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if fields.AdminComments != nil {
		setClauses = append(setClauses, "admin_comments = ?")
		args = append(args, *fields.AdminComments)
	}
	if fields.Flagged != nil {
		setClauses = append(setClauses, "flagged = ?")
		args = append(args, string(*fields.Flagged))
	}
	if fields.ManuallyHandled != nil {
		setClauses = append(setClauses, "manually_handled = ?")
		args = append(args, string(*fields.ManuallyHandled))
	}
	if fields.ByAdmin != nil {
		setClauses = append(setClauses, "by_admin = ?")
		args = append(args, string(*fields.ByAdmin))
	}
	if fields.SessionTime != nil {
		setClauses = append(setClauses, "session_time = ?")
		args = append(args, *fields.SessionTime)
	}
	args = append(args, id)

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET `+strings.Join(setClauses, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update job details %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job details %d rows: %w", id, err)
	}
	if affected == 0 {
		return booking.ErrJobNotFound
	}
	return nil
}

func (s *SQLiteStore) ListPending(ctx context.Context, now time.Time) ([]*booking.Job, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+`
		 FROM jobs j
		 LEFT JOIN distances d ON d.job_id = j.id
		 WHERE j.status = ? AND j.created_at <= ?
		 ORDER BY j.due_time ASC`,
		string(booking.StatusPending), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()

	ret := make([]*booking.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending job: %w", err)
		}
		ret = append(ret, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
