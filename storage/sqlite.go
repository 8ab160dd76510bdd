package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tunishome/geo"
	"tunishome/models"
)

// SQLiteStore holds operational state: run history, run logs, the command queue
// and the durable geocode cache.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY,
		site_id TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		persisted INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		summary JSON
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		stage TEXT,
		url TEXT,
		message TEXT,
		site_id TEXT
	);

	CREATE TABLE IF NOT EXISTS site_stats (
		site_id TEXT PRIMARY KEY,
		last_run_at DATETIME,
		last_run_status TEXT,
		total_persisted INTEGER,
		success_rate REAL,
		avg_run_duration_sec INTEGER
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS geocode_cache (
		locality_key TEXT PRIMARY KEY,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON scrape_runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Runs and logs
// =============================================================================

func (s *SQLiteStore) CreateRun(run *models.ScrapeRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO scrape_runs (site_id, started_at, status, persisted, skipped)
		VALUES (?, ?, ?, 0, 0)`,
		run.SiteID, run.StartedAt, run.Status)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.ScrapeRun) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE scrape_runs SET finished_at = ?, status = ?, persisted = ?, skipped = ?, summary = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.Summary.Persisted, run.Summary.SkippedTotal(), string(summary), run.ID)
	return err
}

func (s *SQLiteStore) LatestRuns(limit int) ([]models.ScrapeRun, error) {
	rows, err := s.db.Query(`
		SELECT id, site_id, started_at, finished_at, status, summary
		FROM scrape_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScrapeRun
	for rows.Next() {
		var run models.ScrapeRun
		var summary sql.NullString
		if err := rows.Scan(&run.ID, &run.SiteID, &run.StartedAt, &run.FinishedAt, &run.Status, &summary); err != nil {
			return nil, err
		}
		if summary.Valid && summary.String != "" {
			if err := json.Unmarshal([]byte(summary.String), &run.Summary); err != nil {
				return nil, fmt.Errorf("run %d summary: %w", run.ID, err)
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Log(entry *models.ScrapeLog) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO scrape_logs (run_id, timestamp, level, stage, url, message, site_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID, ts, entry.Level, entry.Stage, entry.URL, entry.Message, entry.SiteID)
	return err
}

func (s *SQLiteStore) RunLogs(runID int64) ([]models.ScrapeLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, stage, url, message, site_id
		FROM scrape_logs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		var l models.ScrapeLog
		var stage, url sql.NullString
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &stage, &url, &l.Message, &l.SiteID); err != nil {
			return nil, err
		}
		l.Stage = models.Stage(stage.String)
		l.URL = url.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) UpdateSiteStats(siteID string) error {
	_, err := s.db.Exec(`
		INSERT INTO site_stats (site_id, last_run_at, last_run_status, total_persisted,
			success_rate, avg_run_duration_sec)
		SELECT
			?,
			(SELECT started_at FROM scrape_runs WHERE site_id = ? ORDER BY started_at DESC LIMIT 1),
			(SELECT status FROM scrape_runs WHERE site_id = ? ORDER BY started_at DESC LIMIT 1),
			(SELECT COALESCE(SUM(persisted), 0) FROM scrape_runs WHERE site_id = ?),
			(SELECT CAST(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) AS REAL) /
				NULLIF(COUNT(*), 0) FROM scrape_runs WHERE site_id = ?),
			(SELECT AVG(CAST((julianday(finished_at) - julianday(started_at)) * 86400 AS INTEGER))
				FROM scrape_runs WHERE site_id = ? AND finished_at IS NOT NULL)
		ON CONFLICT(site_id) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_run_status = excluded.last_run_status,
			total_persisted = excluded.total_persisted,
			success_rate = excluded.success_rate,
			avg_run_duration_sec = excluded.avg_run_duration_sec`,
		siteID, siteID, siteID, siteID, siteID, siteID)
	return err
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) CreateCommand(cmd models.CommandType, params *models.CommandParams) (int64, error) {
	var raw any
	if params != nil && *params != (models.CommandParams{}) {
		b, err := json.Marshal(params)
		if err != nil {
			return 0, err
		}
		raw = string(b)
	}
	result, err := s.db.Exec(`INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, raw, time.Now())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

// =============================================================================
// Geocode cache
// =============================================================================

func (s *SQLiteStore) Get(ctx context.Context, key string) (geo.Point, bool, error) {
	var p geo.Point
	err := s.db.QueryRowContext(ctx, `SELECT lat, lon FROM geocode_cache WHERE locality_key = ?`, key).Scan(&p.Lat, &p.Lon)
	if errors.Is(err, sql.ErrNoRows) {
		return geo.Point{}, false, nil
	}
	if err != nil {
		return geo.Point{}, false, fmt.Errorf("geocode cache get: %w", err)
	}
	return p, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, p geo.Point) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (locality_key, lat, lon, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(locality_key) DO UPDATE SET lat = excluded.lat, lon = excluded.lon`,
		key, p.Lat, p.Lon, time.Now())
	if err != nil {
		return fmt.Errorf("geocode cache put: %w", err)
	}
	return nil
}
