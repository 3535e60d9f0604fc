package store

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phqovo/slimming/internal/errors"
	"github.com/phqovo/slimming/internal/models"
)

// MemoryStore is an in-memory Store used by unit tests and the dry-run CLI
// mode. It mirrors the SQLite semantics, including fingerprint dedup and the
// one-weight-row-per-day constraint.
type MemoryStore struct {
	mu          sync.RWMutex
	credentials map[string]models.Credential
	external    []models.NormalizedRecord
	runLogs     []models.SyncRunLog
	configs     map[string]models.SyncJobConfig
	weight      map[string]models.LocalWeightRecord // userID|date
	sleep       []models.LocalSleepRecord
	exercise    []models.LocalExerciseRecord
	summaries   map[string]dailySummary
}

type dailySummary struct {
	weight           float64
	sleepHours       float64
	exerciseMinutes  int
	exerciseCalories float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[string]models.Credential),
		configs:     make(map[string]models.SyncJobConfig),
		weight:      make(map[string]models.LocalWeightRecord),
		summaries:   make(map[string]dailySummary),
	}
}

func credKey(userID int64, dataSource string) string {
	return strconv.FormatInt(userID, 10) + "|" + dataSource
}

func dayKey(userID int64, date string) string {
	return strconv.FormatInt(userID, 10) + "|" + date
}

func (m *MemoryStore) GetCredential(userID int64, dataSource string) (*models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cred, ok := m.credentials[credKey(userID, dataSource)]
	if !ok {
		return nil, &errors.ErrCredentialMissing{UserID: userID, DataSource: dataSource}
	}
	out := cred
	return &out, nil
}

func (m *MemoryStore) PutCredential(cred *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *cred
	c.UpdatedAt = time.Now()
	m.credentials[credKey(cred.UserID, cred.DataSource)] = c
	return nil
}

func (m *MemoryStore) DeleteCredential(userID int64, dataSource string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.credentials, credKey(userID, dataSource))
	return nil
}

func (m *MemoryStore) ExistingFingerprints(userID int64, category models.Category, fingerprints []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[string]bool, len(fingerprints))
	for _, fp := range fingerprints {
		want[fp] = true
	}
	existing := make(map[string]bool)
	for _, rec := range m.external {
		if rec.UserID == userID && rec.Category == category && want[rec.Fingerprint] {
			existing[rec.Fingerprint] = true
		}
	}
	return existing, nil
}

func (m *MemoryStore) BulkInsertExternal(records []models.NormalizedRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for _, rec := range m.external {
		seen[dedupKey(rec)] = true
	}

	inserted := 0
	for _, rec := range records {
		if seen[dedupKey(rec)] {
			continue
		}
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		rec.CreatedAt = time.Now()
		m.external = append(m.external, rec)
		seen[dedupKey(rec)] = true
		inserted++
	}
	return inserted, nil
}

func dedupKey(rec models.NormalizedRecord) string {
	return strconv.FormatInt(rec.UserID, 10) + "|" + string(rec.Category) + "|" + rec.Fingerprint
}

func (m *MemoryStore) ListExternalByWindow(userID int64, category models.Category, start, end time.Time) ([]models.NormalizedRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.NormalizedRecord
	for _, rec := range m.external {
		if rec.UserID == userID && rec.Category == category &&
			!rec.StartTime.Before(start) && !rec.StartTime.After(end) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *MemoryStore) ListExternalByDate(userID int64, category models.Category, date string) ([]models.NormalizedRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.NormalizedRecord
	for _, rec := range m.external {
		if rec.UserID == userID && rec.Category == category && rec.RecordDate == date {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *MemoryStore) CreateRunLog(log *models.SyncRunLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.StartTime.IsZero() {
		log.StartTime = time.Now()
	}
	if log.Status == "" {
		log.Status = models.RunStatusRunning
	}
	m.runLogs = append(m.runLogs, *log)
	return nil
}

func (m *MemoryStore) FinishRunLog(id string, status models.RunStatus, recordCount int, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.runLogs {
		if m.runLogs[i].ID == id && m.runLogs[i].Status == models.RunStatusRunning {
			now := time.Now()
			m.runLogs[i].Status = status
			m.runLogs[i].EndTime = &now
			m.runLogs[i].DurationMS = now.Sub(m.runLogs[i].StartTime).Milliseconds()
			m.runLogs[i].RecordCount = recordCount
			m.runLogs[i].ErrorMessage = errorMessage
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) GetRunLog(id string) (*models.SyncRunLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, log := range m.runLogs {
		if log.ID == id {
			out := log
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListRunLogs(filter models.RunLogFilter) ([]models.SyncRunLog, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []models.SyncRunLog
	for _, log := range m.runLogs {
		if filter.UserID > 0 && log.UserID != filter.UserID {
			continue
		}
		if filter.DataSource != "" && log.DataSource != filter.DataSource {
			continue
		}
		if filter.Category != "" && log.Category != filter.Category {
			continue
		}
		if filter.Status != "" && log.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && log.StartTime.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && log.StartTime.After(filter.To) {
			continue
		}
		matched = append(matched, log)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StartTime.After(matched[j].StartTime) })

	total := len(matched)
	offset := filter.Offset()
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit := filter.Limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (m *MemoryStore) PurgeRunLogs(olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []models.SyncRunLog
	var purged int64
	for _, log := range m.runLogs {
		if log.StartTime.Before(olderThan) && log.Status != models.RunStatusRunning {
			purged++
			continue
		}
		kept = append(kept, log)
	}
	m.runLogs = kept
	return purged, nil
}

func (m *MemoryStore) GetSyncConfig(id string) (*models.SyncJobConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[id]
	if !ok {
		return nil, nil
	}
	out := cfg
	return &out, nil
}

func (m *MemoryStore) ListSyncConfigs(userID int64) ([]models.SyncJobConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.SyncJobConfig
	for _, cfg := range m.configs {
		if cfg.UserID == userID {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListEnabledSyncConfigs() ([]models.SyncJobConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.SyncJobConfig
	for _, cfg := range m.configs {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpsertSyncConfig(cfg *models.SyncJobConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	now := time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	m.configs[cfg.ID] = *cfg
	return nil
}

func (m *MemoryStore) DeleteSyncConfig(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.configs, id)
	return nil
}

func (m *MemoryStore) UpdateLastRunAt(configID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg, ok := m.configs[configID]; ok {
		cfg.LastRunAt = &at
		cfg.UpdatedAt = time.Now()
		m.configs[configID] = cfg
	}
	return nil
}

func (m *MemoryStore) GetLocalWeight(userID int64, date string) (*models.LocalWeightRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.weight[dayKey(userID, date)]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (m *MemoryStore) UpsertLocalWeight(rec *models.LocalWeightRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dayKey(rec.UserID, rec.RecordDate)
	now := time.Now()
	if existing, ok := m.weight[key]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	m.weight[key] = *rec
	return nil
}

func (m *MemoryStore) ListLocalSleep(userID int64, date string) ([]models.LocalSleepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.LocalSleepRecord
	for _, rec := range m.sleep {
		if rec.UserID == userID && rec.RecordDate == date {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertLocalSleep(rec *models.LocalSleepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if rec.ExternalOrigin != nil && *rec.ExternalOrigin != "" {
		for i := range m.sleep {
			if m.sleep[i].UserID == rec.UserID &&
				m.sleep[i].ExternalOrigin != nil && *m.sleep[i].ExternalOrigin == *rec.ExternalOrigin {
				rec.ID = m.sleep[i].ID
				rec.CreatedAt = m.sleep[i].CreatedAt
				rec.UpdatedAt = now
				m.sleep[i] = *rec
				return nil
			}
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	m.sleep = append(m.sleep, *rec)
	return nil
}

func (m *MemoryStore) ListLocalExercise(userID int64, date string) ([]models.LocalExerciseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.LocalExerciseRecord
	for _, rec := range m.exercise {
		if rec.UserID == userID && rec.RecordDate == date {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertLocalExercise(rec *models.LocalExerciseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if rec.ExternalOrigin != nil && *rec.ExternalOrigin != "" {
		for i := range m.exercise {
			if m.exercise[i].UserID == rec.UserID &&
				m.exercise[i].ExternalOrigin != nil && *m.exercise[i].ExternalOrigin == *rec.ExternalOrigin {
				rec.ID = m.exercise[i].ID
				rec.CreatedAt = m.exercise[i].CreatedAt
				rec.UpdatedAt = now
				m.exercise[i] = *rec
				return nil
			}
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	m.exercise = append(m.exercise, *rec)
	return nil
}

func (m *MemoryStore) RecomputeDailySummary(userID int64, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sum dailySummary
	if rec, ok := m.weight[dayKey(userID, date)]; ok {
		sum.weight = rec.Weight
	}
	for _, rec := range m.sleep {
		if rec.UserID == userID && rec.RecordDate == date {
			sum.sleepHours += rec.DurationHours
		}
	}
	for _, rec := range m.exercise {
		if rec.UserID == userID && rec.RecordDate == date {
			sum.exerciseMinutes += rec.DurationMinutes
			sum.exerciseCalories += rec.Calories
		}
	}
	m.summaries[dayKey(userID, date)] = sum
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
