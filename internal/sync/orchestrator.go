package sync

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/phqovo/slimming/internal/errors"
	"github.com/phqovo/slimming/internal/lock"
	"github.com/phqovo/slimming/internal/logging"
	"github.com/phqovo/slimming/internal/mihealth"
	"github.com/phqovo/slimming/internal/models"
	"github.com/phqovo/slimming/internal/store"
)

// RecordIterator yields pages of normalized records until the platform cursor
// is exhausted.
type RecordIterator interface {
	Next(ctx context.Context) ([]models.NormalizedRecord, bool, error)
}

// RecordSource opens category page iterators against the platform using one
// credential. Session exposes the live session so a mid-run token refresh can
// be persisted.
type RecordSource interface {
	Pages(userID int64, category models.Category, start, end time.Time) (RecordIterator, error)
	Session() *mihealth.Session
}

// SourceFactory builds a RecordSource for a stored credential. The production
// factory wires the signing client; tests substitute canned sources.
type SourceFactory func(cred *models.Credential) (RecordSource, error)

// Merger folds freshly synced external records into the local tables.
type Merger interface {
	Merge(ctx context.Context, userID int64, category models.Category, start, end time.Time) (int, error)
}

// Notifier delivers failure notifications. Implementations must not block the
// run for long.
type Notifier interface {
	NotifyFailure(userID int64, category models.Category, runID string, errMessage string)
}

// Observer receives terminal run outcomes for metrics.
type Observer interface {
	ObserveRun(category models.Category, status models.RunStatus, duration time.Duration, records int)
}

// Options carries the orchestrator knobs. Zero values fall back to the same
// defaults the config layer applies.
type Options struct {
	BatchSize  int
	LockTTL    time.Duration
	RunTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.BatchSize <= 0 {
		out.BatchSize = 3000
	}
	if out.LockTTL <= 0 {
		out.LockTTL = time.Hour
	}
	if out.RunTimeout <= 0 {
		out.RunTimeout = 15 * time.Minute
	}
	return out
}

// Request describes one sync run.
type Request struct {
	UserID     int64
	DataSource string
	Category   models.Category
	Trigger    models.TriggerKind
	Lookback   models.Lookback

	// ConfigID links the run back to a recurring job config; empty for ad-hoc
	// runs.
	ConfigID   string
	MergeFlags models.MergeFlags
}

// Result is the outcome of a RunSync call. Busy results carry no run ID: a
// run that never started leaves no log row.
type Result struct {
	RunID    string           `json:"run_id,omitempty"`
	Status   models.RunStatus `json:"status"`
	Busy     bool             `json:"busy,omitempty"`
	Fetched  int              `json:"fetched"`
	Inserted int              `json:"inserted"`
	Merged   int              `json:"merged"`
	Duration time.Duration    `json:"duration"`
	Error    string           `json:"error,omitempty"`
}

// Orchestrator drives the full sync pipeline: lock, run log, credential
// resolve, paginated fetch, batched dedup insert, optional local merge.
type Orchestrator struct {
	store    store.Store
	locker   lock.Locker
	factory  SourceFactory
	merger   Merger
	notifier Notifier
	observer Observer
	logger   *logging.Logger
	opts     Options

	now func() time.Time
}

func NewOrchestrator(st store.Store, locker lock.Locker, factory SourceFactory, opts Options, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Orchestrator{
		store:   st,
		locker:  locker,
		factory: factory,
		opts:    opts.withDefaults(),
		logger:  logger,
		now:     time.Now,
	}
}

// SetMerger attaches the local-merge reconciler.
func (o *Orchestrator) SetMerger(m Merger) { o.merger = m }

// SetNotifier attaches the failure notifier.
func (o *Orchestrator) SetNotifier(n Notifier) { o.notifier = n }

// SetObserver attaches the metrics observer.
func (o *Orchestrator) SetObserver(obs Observer) { o.observer = obs }

// RunSync executes one sync run end to end. Concurrent runs for the same
// user/source/category collide on the lock: the loser gets a busy result and
// no run log is written.
func (o *Orchestrator) RunSync(ctx context.Context, req Request) Result {
	key := lock.SyncKey(req.UserID, req.DataSource, req.Category)
	if !o.locker.Acquire(key, o.opts.LockTTL) {
		o.logger.Warn("sync already in progress",
			"user_id", req.UserID, "category", string(req.Category))
		return Result{Busy: true, Status: models.RunStatusRunning}
	}
	defer o.locker.Release(key)

	started := o.now()
	runLog := &models.SyncRunLog{
		UserID:     req.UserID,
		DataSource: req.DataSource,
		Category:   req.Category,
		Trigger:    req.Trigger,
		StartTime:  started,
	}
	if err := o.store.CreateRunLog(runLog); err != nil {
		return Result{Status: models.RunStatusFailed, Error: err.Error()}
	}

	ctx = logging.WithRunID(ctx, runLog.ID)
	ctx, cancel := context.WithTimeout(ctx, o.opts.RunTimeout)
	defer cancel()

	o.logger.InfoWithContext(ctx, "sync run started",
		"user_id", req.UserID,
		"data_source", req.DataSource,
		"category", string(req.Category),
		"trigger", string(req.Trigger),
		"window", req.Lookback.String())

	res := o.execute(ctx, req)
	res.RunID = runLog.ID
	res.Duration = o.now().Sub(started)

	if res.Status == models.RunStatusSuccess {
		if err := o.store.FinishRunLog(runLog.ID, models.RunStatusSuccess, res.Inserted, ""); err != nil {
			o.logger.ErrorWithContext(ctx, "failed to finalize run log", "error", err.Error())
		}
		o.afterSuccess(ctx, req, &res)
		o.logger.InfoWithContext(ctx, "sync run finished",
			"fetched", res.Fetched, "inserted", res.Inserted, "merged", res.Merged,
			"duration_ms", res.Duration.Milliseconds())
	} else {
		if err := o.store.FinishRunLog(runLog.ID, models.RunStatusFailed, res.Inserted, res.Error); err != nil {
			o.logger.ErrorWithContext(ctx, "failed to finalize run log", "error", err.Error())
		}
		o.logger.ErrorWithContext(ctx, "sync run failed", "error", res.Error)
		if o.notifier != nil {
			o.notifier.NotifyFailure(req.UserID, req.Category, runLog.ID, res.Error)
		}
	}

	if o.observer != nil {
		o.observer.ObserveRun(req.Category, res.Status, res.Duration, res.Inserted)
	}
	return res
}

func (o *Orchestrator) execute(ctx context.Context, req Request) Result {
	cred, err := o.store.GetCredential(req.UserID, req.DataSource)
	if err != nil {
		return Result{Status: models.RunStatusFailed, Error: err.Error()}
	}
	if !cred.Verified {
		err := &errors.ErrCredentialMissing{UserID: req.UserID, DataSource: req.DataSource}
		return Result{Status: models.RunStatusFailed, Error: err.Error()}
	}

	source, err := o.factory(cred)
	if err != nil {
		return Result{Status: models.RunStatusFailed, Error: err.Error()}
	}

	start, end := req.Lookback.Window(o.now())
	it, err := source.Pages(req.UserID, req.Category, start, end)
	if err != nil {
		return Result{Status: models.RunStatusFailed, Error: err.Error()}
	}

	var res Result
	batch := make([]models.NormalizedRecord, 0, o.opts.BatchSize)
	for {
		records, ok, err := it.Next(ctx)
		if err != nil {
			res.Status = models.RunStatusFailed
			res.Error = err.Error()
			return res
		}
		if !ok {
			break
		}
		res.Fetched += len(records)
		batch = append(batch, records...)
		for len(batch) >= o.opts.BatchSize {
			inserted, err := o.flush(batch[:o.opts.BatchSize], req)
			if err != nil {
				res.Status = models.RunStatusFailed
				res.Error = err.Error()
				return res
			}
			res.Inserted += inserted
			batch = batch[o.opts.BatchSize:]
		}
	}
	if len(batch) > 0 {
		inserted, err := o.flush(batch, req)
		if err != nil {
			res.Status = models.RunStatusFailed
			res.Error = err.Error()
			return res
		}
		res.Inserted += inserted
	}

	o.persistRotatedSession(ctx, cred, source)

	res.Status = models.RunStatusSuccess
	return res
}

// flush prefilters the batch against stored fingerprints, then bulk-inserts
// the remainder. The insert itself is still OR IGNORE, so a concurrent writer
// cannot cause duplicates either way.
func (o *Orchestrator) flush(batch []models.NormalizedRecord, req Request) (int, error) {
	fingerprints := make([]string, len(batch))
	for i, rec := range batch {
		fingerprints[i] = rec.Fingerprint
	}
	existing, err := o.store.ExistingFingerprints(req.UserID, req.Category, fingerprints)
	if err != nil {
		return 0, err
	}

	fresh := batch[:0:0]
	for _, rec := range batch {
		if !existing[rec.Fingerprint] {
			fresh = append(fresh, rec)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	return o.store.BulkInsertExternal(fresh)
}

// persistRotatedSession writes back the credential when the fetch rotated the
// session token mid-run, so the next run starts from the fresh token.
func (o *Orchestrator) persistRotatedSession(ctx context.Context, cred *models.Credential, source RecordSource) {
	session := source.Session()
	if session == nil || session.Token == cred.Token {
		return
	}
	cred.Token = session.Token
	cred.SecurityKey = session.Security
	cred.Cookies = session.Cookies
	if obs, ok := o.observer.(interface{ RecordSessionRefresh() }); ok {
		obs.RecordSessionRefresh()
	}
	if err := o.store.PutCredential(cred); err != nil {
		o.logger.ErrorWithContext(ctx, "failed to persist rotated session", "error", err.Error())
		return
	}
	o.logger.InfoWithContext(ctx, "persisted rotated session", "token", cred.Redacted())
}

// afterSuccess handles the post-run side effects: lastRunAt bookkeeping and
// the optional local merge. Neither can fail the run.
func (o *Orchestrator) afterSuccess(ctx context.Context, req Request, res *Result) {
	if req.ConfigID != "" {
		if err := o.store.UpdateLastRunAt(req.ConfigID, o.now()); err != nil {
			o.logger.ErrorWithContext(ctx, "failed to update last run time", "error", err.Error())
		}
	}

	if o.merger == nil || !req.MergeFlags.Enabled(req.Category) {
		return
	}
	start, end := req.Lookback.Window(o.now())
	merged, err := o.merger.Merge(ctx, req.UserID, req.Category, start, end)
	if err != nil {
		o.logger.ErrorWithContext(ctx, "local merge failed", "error", err.Error())
		return
	}
	res.Merged = merged
}

// RunConfig executes the run described by a stored job config.
func (o *Orchestrator) RunConfig(ctx context.Context, cfg *models.SyncJobConfig, trigger models.TriggerKind) Result {
	return o.RunSync(ctx, Request{
		UserID:     cfg.UserID,
		DataSource: cfg.DataSource,
		Category:   cfg.Category,
		Trigger:    trigger,
		Lookback:   cfg.Lookback,
		ConfigID:   cfg.ID,
		MergeFlags: mergeFlagsFor(cfg),
	})
}

func mergeFlagsFor(cfg *models.SyncJobConfig) models.MergeFlags {
	if !cfg.AutoMergeToLocal {
		return models.MergeFlags{}
	}
	return cfg.MergeFlags
}

// Status reports whether a sync is currently running for the key.
func (o *Orchestrator) Status(userID int64, dataSource string, category models.Category) bool {
	return o.locker.IsHeld(lock.SyncKey(userID, dataSource, category))
}

// PlatformSource builds the production SourceFactory: a signing client over
// the stored credential with a one-shot refresh hook.
func PlatformSource(httpClient *http.Client, apiBase string, refresh mihealth.RefreshFunc, maxPages int, logger *logging.Logger) SourceFactory {
	return func(cred *models.Credential) (RecordSource, error) {
		platformID, err := cred.PlatformUserID()
		if err != nil {
			return nil, fmt.Errorf("credential for user %d: %w", cred.UserID, err)
		}
		session := &mihealth.Session{
			UserID:   platformID,
			Token:    cred.Token,
			Security: cred.SecurityKey,
			Cookies:  cred.Cookies,
		}
		client := mihealth.NewClient(httpClient, apiBase, session, refresh, logger)
		return &fetcherSource{fetcher: mihealth.NewFetcher(client, maxPages, logger)}, nil
	}
}

// fetcherSource adapts the concrete Fetcher to the RecordSource interface.
type fetcherSource struct {
	fetcher *mihealth.Fetcher
}

func (s *fetcherSource) Pages(userID int64, category models.Category, start, end time.Time) (RecordIterator, error) {
	return s.fetcher.Pages(userID, category, start, end)
}

func (s *fetcherSource) Session() *mihealth.Session {
	return s.fetcher.Session()
}
