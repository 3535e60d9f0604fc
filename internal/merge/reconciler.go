package merge

import (
	"context"
	"sort"
	"time"

	"github.com/phqovo/slimming/internal/errors"
	"github.com/phqovo/slimming/internal/logging"
	"github.com/phqovo/slimming/internal/models"
	"github.com/phqovo/slimming/internal/store"
)

// Reconciler folds synced external records into the local tables without ever
// touching user-authored rows. Merges are idempotent: re-running over the same
// window updates the rows it owns (keyed by externalOrigin) and creates
// nothing new.
type Reconciler struct {
	store  store.Store
	logger *logging.Logger
}

func NewReconciler(st store.Store, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Reconciler{store: st, logger: logger}
}

// Merge reconciles one category over [start, end] and returns the number of
// local rows written.
func (r *Reconciler) Merge(ctx context.Context, userID int64, category models.Category, start, end time.Time) (int, error) {
	switch category {
	case models.CategoryWeight:
		return r.mergeWeight(ctx, userID, start, end)
	case models.CategorySleep:
		return r.mergeSleep(ctx, userID, start, end)
	case models.CategoryExercise:
		return r.mergeExercise(ctx, userID, start, end)
	}
	return 0, &errors.ErrUnsupportedCategory{Category: string(category)}
}

// mergeWeight collapses all external weighings of a day into the single local
// row for that date. The morning value comes from the earliest pre-noon
// weighing, the evening value from the latest post-noon one; a lone weighing
// fills both. The window only selects which dates are touched; each date is
// then regathered in full, so a window that starts mid-day cannot drop that
// morning's weighings from the composition.
func (r *Reconciler) mergeWeight(ctx context.Context, userID int64, start, end time.Time) (int, error) {
	records, err := r.store.ListExternalByWindow(userID, models.CategoryWeight, start, end)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool)
	var dates []string
	for _, rec := range records {
		if !seen[rec.RecordDate] {
			seen[rec.RecordDate] = true
			dates = append(dates, rec.RecordDate)
		}
	}
	sort.Strings(dates)

	written := 0
	for _, date := range dates {
		existing, err := r.store.GetLocalWeight(userID, date)
		if err != nil {
			return written, err
		}
		if existing != nil && models.UserAuthored(existing.ExternalOrigin) {
			r.logger.InfoWithContext(ctx, "skipping user-authored weight entry",
				"user_id", userID, "date", date)
			continue
		}

		dayRecords, err := r.store.ListExternalByDate(userID, models.CategoryWeight, date)
		if err != nil {
			return written, err
		}
		local := buildWeightRow(userID, date, dayRecords)
		if err := r.store.UpsertLocalWeight(local); err != nil {
			return written, err
		}
		written++
		r.recomputeSummary(ctx, userID, date)
	}
	return written, nil
}

func buildWeightRow(userID int64, date string, dayRecords []models.NormalizedRecord) *models.LocalWeightRecord {
	sort.Slice(dayRecords, func(i, j int) bool {
		return dayRecords[i].StartTime.Before(dayRecords[j].StartTime)
	})

	var morning, evening *models.NormalizedRecord
	if len(dayRecords) == 1 {
		morning = &dayRecords[0]
		evening = &dayRecords[0]
	} else {
		for i := range dayRecords {
			rec := &dayRecords[i]
			if rec.StartTime.Hour() < 12 {
				if morning == nil {
					morning = rec
				}
			} else {
				evening = rec
			}
		}
	}

	primary := morning
	if primary == nil {
		primary = evening
	}

	local := &models.LocalWeightRecord{
		UserID:         userID,
		RecordDate:     date,
		ExternalOrigin: &primary.ID,
		Weight:         primary.Metric("weight_kg"),
		BMI:            primary.Metric("bmi"),
		BodyFat:        primary.Metric("body_fat_rate"),
	}
	if morning != nil {
		local.MorningWeight = morning.Metric("weight_kg")
	}
	if evening != nil {
		local.EveningWeight = evening.Metric("weight_kg")
	}
	return local
}

// mergeSleep writes one local row per external sleep session, filed under the
// wake date.
func (r *Reconciler) mergeSleep(ctx context.Context, userID int64, start, end time.Time) (int, error) {
	records, err := r.store.ListExternalByWindow(userID, models.CategorySleep, start, end)
	if err != nil {
		return 0, err
	}

	written := 0
	for i := range records {
		rec := &records[i]
		wakeDate := models.CivilDate(rec.EndTime)

		skip, err := r.dateHasUserSleep(userID, wakeDate)
		if err != nil {
			return written, err
		}
		if skip {
			r.logger.InfoWithContext(ctx, "skipping user-authored sleep entry",
				"user_id", userID, "date", wakeDate)
			continue
		}

		local := &models.LocalSleepRecord{
			UserID:         userID,
			RecordDate:     wakeDate,
			ExternalOrigin: &rec.ID,
			SleepTime:      rec.StartTime,
			WakeTime:       rec.EndTime,
			DurationHours:  rec.Metric("duration_minutes") / 60,
		}
		if err := r.store.UpsertLocalSleep(local); err != nil {
			return written, err
		}
		written++
		r.recomputeSummary(ctx, userID, wakeDate)
	}
	return written, nil
}

func (r *Reconciler) dateHasUserSleep(userID int64, date string) (bool, error) {
	existing, err := r.store.ListLocalSleep(userID, date)
	if err != nil {
		return false, err
	}
	for _, rec := range existing {
		if models.UserAuthored(rec.ExternalOrigin) {
			return true, nil
		}
	}
	return false, nil
}

// mergeExercise writes one local row per external workout.
func (r *Reconciler) mergeExercise(ctx context.Context, userID int64, start, end time.Time) (int, error) {
	records, err := r.store.ListExternalByWindow(userID, models.CategoryExercise, start, end)
	if err != nil {
		return 0, err
	}

	written := 0
	for i := range records {
		rec := &records[i]

		skip, err := r.dateHasUserExercise(userID, rec.RecordDate)
		if err != nil {
			return written, err
		}
		if skip {
			r.logger.InfoWithContext(ctx, "skipping user-authored exercise entry",
				"user_id", userID, "date", rec.RecordDate)
			continue
		}

		local := &models.LocalExerciseRecord{
			UserID:          userID,
			RecordDate:      rec.RecordDate,
			ExternalOrigin:  &rec.ID,
			ExerciseType:    rec.ExerciseType,
			DurationMinutes: int(rec.Metric("duration_minutes")),
			Calories:        rec.Metric("calories"),
			DistanceKM:      rec.Metric("distance_meters") / 1000,
		}
		if err := r.store.UpsertLocalExercise(local); err != nil {
			return written, err
		}
		written++
		r.recomputeSummary(ctx, userID, rec.RecordDate)
	}
	return written, nil
}

func (r *Reconciler) dateHasUserExercise(userID int64, date string) (bool, error) {
	existing, err := r.store.ListLocalExercise(userID, date)
	if err != nil {
		return false, err
	}
	for _, rec := range existing {
		if models.UserAuthored(rec.ExternalOrigin) {
			return true, nil
		}
	}
	return false, nil
}

// recomputeSummary is a best-effort side effect: a failed summary never fails
// the merge.
func (r *Reconciler) recomputeSummary(ctx context.Context, userID int64, date string) {
	if err := r.store.RecomputeDailySummary(userID, date); err != nil {
		r.logger.ErrorWithContext(ctx, "failed to recompute daily summary",
			"user_id", userID, "date", date, "error", err.Error())
	}
}
