package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"scriptd/internal/script"
	"scriptd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (script.Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const scriptColumns = `id, name, path, description, is_active,
	start_enabled, start_at, repeat_enabled, interval_value, interval_unit, weekdays,
	last_run, next_run, created_at, updated_at`

func (s *sqliteStore) Get(ctx context.Context, id int64) (*script.Script, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scriptColumns+` FROM scripts WHERE id = ?`, id)
	return scanScript(row)
}

func (s *sqliteStore) GetByName(ctx context.Context, name string) (*script.Script, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scriptColumns+` FROM scripts WHERE name = ?`, name)
	return scanScript(row)
}

func (s *sqliteStore) List(ctx context.Context, activeOnly bool) ([]*script.Script, error) {
	q := `SELECT ` + scriptColumns + ` FROM scripts`
	if activeOnly {
		q += ` WHERE is_active = 1`
	}
	q += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*script.Script
	for rows.Next() {
		sc, err := scanScript(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Create(ctx context.Context, sc *script.Script) error {
	now := time.Now()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scripts(name, path, description, is_active,
			start_enabled, start_at, repeat_enabled, interval_value, interval_unit, weekdays,
			last_run, next_run, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sc.Name, sc.Path, nullStr(sc.Description), boolInt(sc.IsActive),
		boolInt(sc.Schedule.StartEnabled), nullTime(sc.Schedule.StartAt),
		boolInt(sc.Schedule.RepeatEnabled), nullInt(sc.Schedule.IntervalValue),
		nullStr(string(sc.Schedule.IntervalUnit)), weekdaysJSON(sc.Schedule.Weekdays),
		nullTime(sc.LastRun), nullTime(sc.NextRun),
		fmtTime(sc.CreatedAt), fmtTime(sc.UpdatedAt),
	)
	if err != nil {
		return mapConstraint(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	sc.ID = id
	return nil
}

func (s *sqliteStore) Update(ctx context.Context, sc *script.Script) error {
	sc.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE scripts SET name=?, path=?, description=?, is_active=?,
			start_enabled=?, start_at=?, repeat_enabled=?, interval_value=?, interval_unit=?, weekdays=?,
			last_run=?, next_run=?, updated_at=?
		 WHERE id=?`,
		sc.Name, sc.Path, nullStr(sc.Description), boolInt(sc.IsActive),
		boolInt(sc.Schedule.StartEnabled), nullTime(sc.Schedule.StartAt),
		boolInt(sc.Schedule.RepeatEnabled), nullInt(sc.Schedule.IntervalValue),
		nullStr(string(sc.Schedule.IntervalUnit)), weekdaysJSON(sc.Schedule.Weekdays),
		nullTime(sc.LastRun), nullTime(sc.NextRun), fmtTime(sc.UpdatedAt),
		sc.ID,
	)
	if err != nil {
		return mapConstraint(err)
	}
	return requireRow(res)
}

func (s *sqliteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scripts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scripts SET is_active=?, updated_at=? WHERE id=?`,
		boolInt(active), fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) UpdateState(ctx context.Context, id int64, u script.StateUpdate) error {
	if u.IsZero() {
		return nil
	}
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if u.LastRun != nil {
		sets = append(sets, "last_run=?")
		args = append(args, fmtTime(*u.LastRun))
	}
	switch {
	case u.ClearNextRun:
		sets = append(sets, "next_run=NULL")
	case u.NextRun != nil:
		sets = append(sets, "next_run=?")
		args = append(args, fmtTime(*u.NextRun))
	}
	sets = append(sets, "updated_at=?")
	args = append(args, fmtTime(time.Now()), id)

	// is_running lives in the in-memory registry, not the database: the flag
	// is meaningless across restarts, so it is intentionally not persisted.
	_ = u.IsRunning

	res, err := s.db.ExecContext(ctx,
		`UPDATE scripts SET `+strings.Join(sets, ", ")+` WHERE id=?`, args...)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ---- scan/convert helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScript(row rowScanner) (*script.Script, error) {
	var (
		sc            script.Script
		desc, unit    sql.NullString
		startAt       sql.NullString
		weekdays      sql.NullString
		lastRun       sql.NullString
		nextRun       sql.NullString
		created, upd  string
		active, se    int
		re, intervalV sql.NullInt64
	)
	err := row.Scan(&sc.ID, &sc.Name, &sc.Path, &desc, &active,
		&se, &startAt, &re, &intervalV, &unit, &weekdays,
		&lastRun, &nextRun, &created, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, script.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sc.Description = desc.String
	sc.IsActive = active != 0
	sc.Schedule.StartEnabled = se != 0
	sc.Schedule.StartAt = parseTimePtr(startAt)
	sc.Schedule.RepeatEnabled = re.Valid && re.Int64 != 0
	sc.Schedule.IntervalValue = int(intervalV.Int64)
	sc.Schedule.IntervalUnit = script.IntervalUnit(unit.String)
	if weekdays.Valid && weekdays.String != "" {
		if err := json.Unmarshal([]byte(weekdays.String), &sc.Schedule.Weekdays); err != nil {
			return nil, fmt.Errorf("script %d: bad weekdays %q: %w", sc.ID, weekdays.String, err)
		}
	}
	sc.LastRun = parseTimePtr(lastRun)
	sc.NextRun = parseTimePtr(nextRun)
	sc.CreatedAt = parseTime(created)
	sc.UpdatedAt = parseTime(upd)
	return &sc, nil
}

func fmtTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullStr(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func weekdaysJSON(days []int) any {
	if len(days) == 0 {
		return nil
	}
	b, err := json.Marshal(days)
	if err != nil {
		return nil
	}
	return string(b)
}

func mapConstraint(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: scripts.name") {
		return script.ErrDuplicateName
	}
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return script.ErrNotFound
	}
	return nil
}
