package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phqovo/slimming/internal/errors"
	"github.com/phqovo/slimming/internal/logging"
	"github.com/phqovo/slimming/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists the sync engine's state with WAL mode enabled.
// It is safe for concurrent use.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	logger *logging.Logger

	cleanupTicker *time.Ticker
	cleanupDone   chan struct{}
	retention     time.Duration
}

// NewSQLiteStore opens (or creates) the database at dbPath. A retention of
// zero disables the background run-log cleanup.
func NewSQLiteStore(dbPath string, retention time.Duration) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=cache_size(2000)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{
		db:          db,
		logger:      logging.NewLogger(),
		cleanupDone: make(chan struct{}),
		retention:   retention,
	}

	if retention > 0 {
		store.startCleanup()
	}

	return store, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create migrations table", Err: err}
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "get current migration version", Err: err}
	}

	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS credentials (
					user_id INTEGER NOT NULL,
					data_source TEXT NOT NULL,
					token TEXT NOT NULL,
					security_key BLOB NOT NULL,
					cookies TEXT NOT NULL DEFAULT '',
					verified INTEGER NOT NULL DEFAULT 0,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (user_id, data_source)
				);

				CREATE TABLE IF NOT EXISTS external_records (
					id TEXT PRIMARY KEY,
					user_id INTEGER NOT NULL,
					data_source TEXT NOT NULL,
					category TEXT NOT NULL,
					fingerprint TEXT NOT NULL,
					source_id TEXT NOT NULL,
					record_date TEXT NOT NULL,
					start_time DATETIME NOT NULL,
					end_time DATETIME NOT NULL,
					exercise_type TEXT NOT NULL DEFAULT '',
					metrics TEXT NOT NULL DEFAULT '{}',
					raw TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (user_id, category, fingerprint)
				);

				CREATE TABLE IF NOT EXISTS sync_run_logs (
					id TEXT PRIMARY KEY,
					user_id INTEGER NOT NULL,
					data_source TEXT NOT NULL,
					category TEXT NOT NULL,
					trigger_kind TEXT NOT NULL,
					status TEXT NOT NULL,
					start_time DATETIME NOT NULL,
					end_time DATETIME,
					duration_ms INTEGER NOT NULL DEFAULT 0,
					record_count INTEGER NOT NULL DEFAULT 0,
					error_message TEXT NOT NULL DEFAULT ''
				);

				CREATE TABLE IF NOT EXISTS sync_configs (
					id TEXT PRIMARY KEY,
					user_id INTEGER NOT NULL,
					data_source TEXT NOT NULL,
					category TEXT NOT NULL,
					enabled INTEGER NOT NULL DEFAULT 1,
					schedule TEXT NOT NULL,
					interval_seconds INTEGER NOT NULL DEFAULT 0,
					cron_hour INTEGER NOT NULL DEFAULT 0,
					cron_minute INTEGER NOT NULL DEFAULT 0,
					lookback_days INTEGER NOT NULL DEFAULT 30,
					yesterday_only INTEGER NOT NULL DEFAULT 0,
					auto_merge INTEGER NOT NULL DEFAULT 0,
					merge_weight INTEGER NOT NULL DEFAULT 0,
					merge_sleep INTEGER NOT NULL DEFAULT 0,
					merge_exercise INTEGER NOT NULL DEFAULT 0,
					last_run_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (user_id, data_source, category)
				);

				CREATE INDEX IF NOT EXISTS idx_external_user_cat_date ON external_records(user_id, category, record_date);
				CREATE INDEX IF NOT EXISTS idx_external_start_time ON external_records(user_id, category, start_time);
				CREATE INDEX IF NOT EXISTS idx_run_logs_user ON sync_run_logs(user_id, start_time);
				CREATE INDEX IF NOT EXISTS idx_run_logs_status ON sync_run_logs(status);
			`,
		},
		{
			version: 2,
			up: `
				CREATE TABLE IF NOT EXISTS local_weight_records (
					id TEXT PRIMARY KEY,
					user_id INTEGER NOT NULL,
					record_date TEXT NOT NULL,
					external_origin TEXT,
					weight REAL NOT NULL DEFAULT 0,
					morning_weight REAL NOT NULL DEFAULT 0,
					evening_weight REAL NOT NULL DEFAULT 0,
					body_fat REAL NOT NULL DEFAULT 0,
					bmi REAL NOT NULL DEFAULT 0,
					note TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (user_id, record_date)
				);

				CREATE TABLE IF NOT EXISTS local_sleep_records (
					id TEXT PRIMARY KEY,
					user_id INTEGER NOT NULL,
					record_date TEXT NOT NULL,
					external_origin TEXT,
					sleep_time DATETIME NOT NULL,
					wake_time DATETIME NOT NULL,
					duration_hours REAL NOT NULL DEFAULT 0,
					quality TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (user_id, external_origin)
				);

				CREATE TABLE IF NOT EXISTS local_exercise_records (
					id TEXT PRIMARY KEY,
					user_id INTEGER NOT NULL,
					record_date TEXT NOT NULL,
					external_origin TEXT,
					exercise_type TEXT NOT NULL DEFAULT '',
					duration_minutes INTEGER NOT NULL DEFAULT 0,
					calories REAL NOT NULL DEFAULT 0,
					distance_km REAL NOT NULL DEFAULT 0,
					note TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (user_id, external_origin)
				);

				CREATE TABLE IF NOT EXISTS daily_summaries (
					user_id INTEGER NOT NULL,
					summary_date TEXT NOT NULL,
					weight REAL NOT NULL DEFAULT 0,
					sleep_hours REAL NOT NULL DEFAULT 0,
					exercise_minutes INTEGER NOT NULL DEFAULT 0,
					exercise_calories REAL NOT NULL DEFAULT 0,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (user_id, summary_date)
				);

				CREATE INDEX IF NOT EXISTS idx_local_sleep_date ON local_sleep_records(user_id, record_date);
				CREATE INDEX IF NOT EXISTS idx_local_exercise_date ON local_exercise_records(user_id, record_date);
			`,
		},
	}

	tx, err := db.Begin()
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version > currentVersion {
			if _, err := tx.Exec(m.up); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit migrations", Err: err}
	}

	return nil
}

func (s *SQLiteStore) startCleanup() {
	s.cleanupTicker = time.NewTicker(time.Hour)
	go func() {
		for {
			select {
			case <-s.cleanupTicker.C:
				cutoff := time.Now().Add(-s.retention)
				if _, err := s.PurgeRunLogs(cutoff); err != nil {
					s.logger.Error("run log cleanup failed", "error", err.Error())
				}
			case <-s.cleanupDone:
				return
			}
		}
	}()
}

// Close gracefully shuts down the store.
func (s *SQLiteStore) Close() error {
	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
		close(s.cleanupDone)
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Credential operations

func (s *SQLiteStore) GetCredential(userID int64, dataSource string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cred models.Credential
	err := s.db.QueryRow(`
		SELECT user_id, data_source, token, security_key, cookies, verified, updated_at
		FROM credentials WHERE user_id = ? AND data_source = ?
	`, userID, dataSource).Scan(&cred.UserID, &cred.DataSource, &cred.Token,
		&cred.SecurityKey, &cred.Cookies, &cred.Verified, &cred.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, &errors.ErrCredentialMissing{UserID: userID, DataSource: dataSource}
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get credential", Err: err}
	}
	return &cred, nil
}

func (s *SQLiteStore) PutCredential(cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO credentials (user_id, data_source, token, security_key, cookies, verified, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, data_source) DO UPDATE SET
			token = excluded.token,
			security_key = excluded.security_key,
			cookies = excluded.cookies,
			verified = excluded.verified,
			updated_at = excluded.updated_at
	`, cred.UserID, cred.DataSource, cred.Token, cred.SecurityKey, cred.Cookies, cred.Verified, time.Now())
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "put credential", Err: err}
	}
	return nil
}

func (s *SQLiteStore) DeleteCredential(userID int64, dataSource string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM credentials WHERE user_id = ? AND data_source = ?", userID, dataSource)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "delete credential", Err: err}
	}
	return nil
}

// External record operations

func (s *SQLiteStore) ExistingFingerprints(userID int64, category models.Category, fingerprints []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(fingerprints))
	if len(fingerprints) == 0 {
		return existing, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// SQLite caps bound parameters, so probe in chunks.
	const chunkSize = 500
	for offset := 0; offset < len(fingerprints); offset += chunkSize {
		end := offset + chunkSize
		if end > len(fingerprints) {
			end = len(fingerprints)
		}
		chunk := fingerprints[offset:end]

		placeholders := strings.Repeat("?,", len(chunk)-1) + "?"
		args := make([]any, 0, len(chunk)+2)
		args = append(args, userID, string(category))
		for _, fp := range chunk {
			args = append(args, fp)
		}

		rows, err := s.db.Query(fmt.Sprintf(`
			SELECT fingerprint FROM external_records
			WHERE user_id = ? AND category = ? AND fingerprint IN (%s)
		`, placeholders), args...)
		if err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "query fingerprints", Err: err}
		}
		for rows.Next() {
			var fp string
			if err := rows.Scan(&fp); err != nil {
				rows.Close()
				return nil, &errors.ErrDatabaseQuery{Operation: "scan fingerprint", Err: err}
			}
			existing[fp] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, &errors.ErrDatabaseQuery{Operation: "iterate fingerprints", Err: err}
		}
		rows.Close()
	}
	return existing, nil
}

// BulkInsertExternal inserts records in one transaction, silently skipping
// rows whose fingerprint already exists. It returns the number of rows
// actually inserted.
func (s *SQLiteStore) BulkInsertExternal(records []models.NormalizedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "begin bulk insert", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO external_records
			(id, user_id, data_source, category, fingerprint, source_id, record_date,
			 start_time, end_time, exercise_type, metrics, raw, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "prepare bulk insert", Err: err}
	}
	defer stmt.Close()

	inserted := 0
	now := time.Now()
	for _, rec := range records {
		id := rec.ID
		if id == "" {
			id = uuid.New().String()
		}
		metrics, err := json.Marshal(rec.Metrics)
		if err != nil {
			return inserted, &errors.ErrDatabaseQuery{Operation: "encode metrics", Err: err}
		}
		res, err := stmt.Exec(id, rec.UserID, rec.DataSource, string(rec.Category),
			rec.Fingerprint, rec.SourceID, rec.RecordDate,
			rec.StartTime, rec.EndTime, rec.ExerciseType, string(metrics), rec.Raw, now)
		if err != nil {
			return inserted, &errors.ErrDatabaseQuery{Operation: "bulk insert record", Err: err}
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "commit bulk insert", Err: err}
	}
	return inserted, nil
}

func (s *SQLiteStore) ListExternalByWindow(userID int64, category models.Category, start, end time.Time) ([]models.NormalizedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, user_id, data_source, category, fingerprint, source_id, record_date,
		       start_time, end_time, exercise_type, metrics, raw, created_at
		FROM external_records
		WHERE user_id = ? AND category = ? AND start_time >= ? AND start_time <= ?
		ORDER BY start_time
	`, userID, string(category), start, end)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list external records", Err: err}
	}
	defer rows.Close()
	return scanExternalRecords(rows)
}

// ListExternalByDate returns every external record filed under one civil
// date, regardless of any sync window. Weight merges regroup whole days, so
// a window that starts mid-day must not hide the earlier weighings.
func (s *SQLiteStore) ListExternalByDate(userID int64, category models.Category, date string) ([]models.NormalizedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, user_id, data_source, category, fingerprint, source_id, record_date,
		       start_time, end_time, exercise_type, metrics, raw, created_at
		FROM external_records
		WHERE user_id = ? AND category = ? AND record_date = ?
		ORDER BY start_time
	`, userID, string(category), date)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list external records by date", Err: err}
	}
	defer rows.Close()
	return scanExternalRecords(rows)
}

func scanExternalRecords(rows *sql.Rows) ([]models.NormalizedRecord, error) {
	var records []models.NormalizedRecord
	for rows.Next() {
		var rec models.NormalizedRecord
		var metrics string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.DataSource, &rec.Category,
			&rec.Fingerprint, &rec.SourceID, &rec.RecordDate,
			&rec.StartTime, &rec.EndTime, &rec.ExerciseType, &metrics, &rec.Raw, &rec.CreatedAt); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan external record", Err: err}
		}
		if err := json.Unmarshal([]byte(metrics), &rec.Metrics); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "decode metrics", Err: err}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Run log operations

func (s *SQLiteStore) CreateRunLog(log *models.SyncRunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.StartTime.IsZero() {
		log.StartTime = time.Now()
	}
	if log.Status == "" {
		log.Status = models.RunStatusRunning
	}

	_, err := s.db.Exec(`
		INSERT INTO sync_run_logs (id, user_id, data_source, category, trigger_kind, status, start_time, record_count, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, log.ID, log.UserID, log.DataSource, string(log.Category), string(log.Trigger),
		string(log.Status), log.StartTime, log.RecordCount, log.ErrorMessage)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create run log", Err: err}
	}
	return nil
}

// FinishRunLog moves a running log to its terminal status and stamps the
// duration. Run logs are append-only after this.
func (s *SQLiteStore) FinishRunLog(id string, status models.RunStatus, recordCount int, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	_, err := s.db.Exec(`
		UPDATE sync_run_logs
		SET status = ?,
		    end_time = ?,
		    duration_ms = CAST((julianday(?) - julianday(start_time)) * 86400000 AS INTEGER),
		    record_count = ?,
		    error_message = ?
		WHERE id = ? AND status = ?
	`, string(status), now, now, recordCount, errorMessage, id, string(models.RunStatusRunning))
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "finish run log", Err: err}
	}
	return nil
}

func (s *SQLiteStore) GetRunLog(id string) (*models.SyncRunLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var log models.SyncRunLog
	var endTime sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, user_id, data_source, category, trigger_kind, status, start_time, end_time, duration_ms, record_count, error_message
		FROM sync_run_logs WHERE id = ?
	`, id).Scan(&log.ID, &log.UserID, &log.DataSource, &log.Category, &log.Trigger,
		&log.Status, &log.StartTime, &endTime, &log.DurationMS, &log.RecordCount, &log.ErrorMessage)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get run log", Err: err}
	}
	if endTime.Valid {
		log.EndTime = &endTime.Time
	}
	return &log, nil
}

func (s *SQLiteStore) ListRunLogs(filter models.RunLogFilter) ([]models.SyncRunLog, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"1=1"}
	var args []any
	if filter.UserID > 0 {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.DataSource != "" {
		where = append(where, "data_source = ?")
		args = append(args, filter.DataSource)
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.From.IsZero() {
		where = append(where, "start_time >= ?")
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		where = append(where, "start_time <= ?")
		args = append(args, filter.To)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM sync_run_logs WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, &errors.ErrDatabaseQuery{Operation: "count run logs", Err: err}
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, data_source, category, trigger_kind, status, start_time, end_time, duration_ms, record_count, error_message
		FROM sync_run_logs WHERE %s
		ORDER BY start_time DESC
		LIMIT ? OFFSET ?
	`, clause)
	rows, err := s.db.Query(query, append(args, filter.Limit(), filter.Offset())...)
	if err != nil {
		return nil, 0, &errors.ErrDatabaseQuery{Operation: "list run logs", Err: err}
	}
	defer rows.Close()

	var logs []models.SyncRunLog
	for rows.Next() {
		var log models.SyncRunLog
		var endTime sql.NullTime
		if err := rows.Scan(&log.ID, &log.UserID, &log.DataSource, &log.Category, &log.Trigger,
			&log.Status, &log.StartTime, &endTime, &log.DurationMS, &log.RecordCount, &log.ErrorMessage); err != nil {
			return nil, 0, &errors.ErrDatabaseQuery{Operation: "scan run log", Err: err}
		}
		if endTime.Valid {
			log.EndTime = &endTime.Time
		}
		logs = append(logs, log)
	}
	return logs, total, rows.Err()
}

func (s *SQLiteStore) PurgeRunLogs(olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM sync_run_logs WHERE start_time < ? AND status != ?",
		olderThan, string(models.RunStatusRunning))
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "purge run logs", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Sync config operations

const syncConfigColumns = `id, user_id, data_source, category, enabled, schedule, interval_seconds,
	cron_hour, cron_minute, lookback_days, yesterday_only, auto_merge,
	merge_weight, merge_sleep, merge_exercise, last_run_at, created_at, updated_at`

func scanSyncConfig(row interface{ Scan(...any) error }) (*models.SyncJobConfig, error) {
	var cfg models.SyncJobConfig
	var lastRun sql.NullTime
	err := row.Scan(&cfg.ID, &cfg.UserID, &cfg.DataSource, &cfg.Category, &cfg.Enabled,
		&cfg.Schedule, &cfg.IntervalSeconds, &cfg.CronHour, &cfg.CronMinute,
		&cfg.Lookback.Days, &cfg.Lookback.YesterdayOnly, &cfg.AutoMergeToLocal,
		&cfg.MergeFlags.Weight, &cfg.MergeFlags.Sleep, &cfg.MergeFlags.Exercise,
		&lastRun, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastRun.Valid {
		cfg.LastRunAt = &lastRun.Time
	}
	return &cfg, nil
}

func (s *SQLiteStore) GetSyncConfig(id string) (*models.SyncJobConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, err := scanSyncConfig(s.db.QueryRow(
		"SELECT "+syncConfigColumns+" FROM sync_configs WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get sync config", Err: err}
	}
	return cfg, nil
}

func (s *SQLiteStore) ListSyncConfigs(userID int64) ([]models.SyncJobConfig, error) {
	return s.listSyncConfigs("user_id = ?", userID)
}

func (s *SQLiteStore) ListEnabledSyncConfigs() ([]models.SyncJobConfig, error) {
	return s.listSyncConfigs("enabled = 1")
}

func (s *SQLiteStore) listSyncConfigs(clause string, args ...any) ([]models.SyncJobConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT "+syncConfigColumns+" FROM sync_configs WHERE "+clause+" ORDER BY created_at", args...)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list sync configs", Err: err}
	}
	defer rows.Close()

	var configs []models.SyncJobConfig
	for rows.Next() {
		cfg, err := scanSyncConfig(rows)
		if err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan sync config", Err: err}
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

func (s *SQLiteStore) UpsertSyncConfig(cfg *models.SyncJobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	now := time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO sync_configs (id, user_id, data_source, category, enabled, schedule, interval_seconds,
			cron_hour, cron_minute, lookback_days, yesterday_only, auto_merge,
			merge_weight, merge_sleep, merge_exercise, last_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			enabled = excluded.enabled,
			schedule = excluded.schedule,
			interval_seconds = excluded.interval_seconds,
			cron_hour = excluded.cron_hour,
			cron_minute = excluded.cron_minute,
			lookback_days = excluded.lookback_days,
			yesterday_only = excluded.yesterday_only,
			auto_merge = excluded.auto_merge,
			merge_weight = excluded.merge_weight,
			merge_sleep = excluded.merge_sleep,
			merge_exercise = excluded.merge_exercise,
			updated_at = excluded.updated_at
	`, cfg.ID, cfg.UserID, cfg.DataSource, string(cfg.Category), cfg.Enabled, string(cfg.Schedule),
		cfg.IntervalSeconds, cfg.CronHour, cfg.CronMinute, cfg.Lookback.Days, cfg.Lookback.YesterdayOnly,
		cfg.AutoMergeToLocal, cfg.MergeFlags.Weight, cfg.MergeFlags.Sleep, cfg.MergeFlags.Exercise,
		cfg.LastRunAt, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "upsert sync config", Err: err}
	}
	return nil
}

func (s *SQLiteStore) DeleteSyncConfig(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM sync_configs WHERE id = ?", id)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "delete sync config", Err: err}
	}
	return nil
}

func (s *SQLiteStore) UpdateLastRunAt(configID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("UPDATE sync_configs SET last_run_at = ?, updated_at = ? WHERE id = ?", at, time.Now(), configID)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "update last run at", Err: err}
	}
	return nil
}

// Local record operations

func (s *SQLiteStore) GetLocalWeight(userID int64, date string) (*models.LocalWeightRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec models.LocalWeightRecord
	var origin sql.NullString
	err := s.db.QueryRow(`
		SELECT id, user_id, record_date, external_origin, weight, morning_weight, evening_weight,
		       body_fat, bmi, note, created_at, updated_at
		FROM local_weight_records WHERE user_id = ? AND record_date = ?
	`, userID, date).Scan(&rec.ID, &rec.UserID, &rec.RecordDate, &origin, &rec.Weight,
		&rec.MorningWeight, &rec.EveningWeight, &rec.BodyFat, &rec.BMI, &rec.Note,
		&rec.CreatedAt, &rec.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get local weight", Err: err}
	}
	if origin.Valid {
		rec.ExternalOrigin = &origin.String
	}
	return &rec, nil
}

func (s *SQLiteStore) UpsertLocalWeight(rec *models.LocalWeightRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO local_weight_records (id, user_id, record_date, external_origin, weight,
			morning_weight, evening_weight, body_fat, bmi, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, record_date) DO UPDATE SET
			external_origin = excluded.external_origin,
			weight = excluded.weight,
			morning_weight = excluded.morning_weight,
			evening_weight = excluded.evening_weight,
			body_fat = excluded.body_fat,
			bmi = excluded.bmi,
			updated_at = excluded.updated_at
	`, rec.ID, rec.UserID, rec.RecordDate, rec.ExternalOrigin, rec.Weight,
		rec.MorningWeight, rec.EveningWeight, rec.BodyFat, rec.BMI, rec.Note,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "upsert local weight", Err: err}
	}
	return nil
}

func (s *SQLiteStore) ListLocalSleep(userID int64, date string) ([]models.LocalSleepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, user_id, record_date, external_origin, sleep_time, wake_time,
		       duration_hours, quality, created_at, updated_at
		FROM local_sleep_records WHERE user_id = ? AND record_date = ?
	`, userID, date)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list local sleep", Err: err}
	}
	defer rows.Close()

	var records []models.LocalSleepRecord
	for rows.Next() {
		var rec models.LocalSleepRecord
		var origin sql.NullString
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.RecordDate, &origin, &rec.SleepTime,
			&rec.WakeTime, &rec.DurationHours, &rec.Quality, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan local sleep", Err: err}
		}
		if origin.Valid {
			rec.ExternalOrigin = &origin.String
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) UpsertLocalSleep(rec *models.LocalSleepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO local_sleep_records (id, user_id, record_date, external_origin, sleep_time,
			wake_time, duration_hours, quality, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, external_origin) DO UPDATE SET
			record_date = excluded.record_date,
			sleep_time = excluded.sleep_time,
			wake_time = excluded.wake_time,
			duration_hours = excluded.duration_hours,
			updated_at = excluded.updated_at
	`, rec.ID, rec.UserID, rec.RecordDate, rec.ExternalOrigin, rec.SleepTime,
		rec.WakeTime, rec.DurationHours, rec.Quality, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "upsert local sleep", Err: err}
	}
	return nil
}

func (s *SQLiteStore) ListLocalExercise(userID int64, date string) ([]models.LocalExerciseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, user_id, record_date, external_origin, exercise_type, duration_minutes,
		       calories, distance_km, note, created_at, updated_at
		FROM local_exercise_records WHERE user_id = ? AND record_date = ?
	`, userID, date)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list local exercise", Err: err}
	}
	defer rows.Close()

	var records []models.LocalExerciseRecord
	for rows.Next() {
		var rec models.LocalExerciseRecord
		var origin sql.NullString
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.RecordDate, &origin, &rec.ExerciseType,
			&rec.DurationMinutes, &rec.Calories, &rec.DistanceKM, &rec.Note,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan local exercise", Err: err}
		}
		if origin.Valid {
			rec.ExternalOrigin = &origin.String
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) UpsertLocalExercise(rec *models.LocalExerciseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO local_exercise_records (id, user_id, record_date, external_origin, exercise_type,
			duration_minutes, calories, distance_km, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, external_origin) DO UPDATE SET
			record_date = excluded.record_date,
			exercise_type = excluded.exercise_type,
			duration_minutes = excluded.duration_minutes,
			calories = excluded.calories,
			distance_km = excluded.distance_km,
			updated_at = excluded.updated_at
	`, rec.ID, rec.UserID, rec.RecordDate, rec.ExternalOrigin, rec.ExerciseType,
		rec.DurationMinutes, rec.Calories, rec.DistanceKM, rec.Note, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "upsert local exercise", Err: err}
	}
	return nil
}

// RecomputeDailySummary rebuilds the aggregate row for one user-day from the
// local record tables.
func (s *SQLiteStore) RecomputeDailySummary(userID int64, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var weight float64
	err := s.db.QueryRow(`
		SELECT COALESCE(weight, 0) FROM local_weight_records WHERE user_id = ? AND record_date = ?
	`, userID, date).Scan(&weight)
	if err != nil && err != sql.ErrNoRows {
		return &errors.ErrDatabaseQuery{Operation: "summary weight", Err: err}
	}

	var sleepHours float64
	err = s.db.QueryRow(`
		SELECT COALESCE(SUM(duration_hours), 0) FROM local_sleep_records WHERE user_id = ? AND record_date = ?
	`, userID, date).Scan(&sleepHours)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "summary sleep", Err: err}
	}

	var exerciseMinutes int
	var exerciseCalories float64
	err = s.db.QueryRow(`
		SELECT COALESCE(SUM(duration_minutes), 0), COALESCE(SUM(calories), 0)
		FROM local_exercise_records WHERE user_id = ? AND record_date = ?
	`, userID, date).Scan(&exerciseMinutes, &exerciseCalories)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "summary exercise", Err: err}
	}

	_, err = s.db.Exec(`
		INSERT INTO daily_summaries (user_id, summary_date, weight, sleep_hours, exercise_minutes, exercise_calories, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, summary_date) DO UPDATE SET
			weight = excluded.weight,
			sleep_hours = excluded.sleep_hours,
			exercise_minutes = excluded.exercise_minutes,
			exercise_calories = excluded.exercise_calories,
			updated_at = excluded.updated_at
	`, userID, date, weight, sleepHours, exerciseMinutes, exerciseCalories, time.Now())
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "upsert daily summary", Err: err}
	}
	return nil
}
