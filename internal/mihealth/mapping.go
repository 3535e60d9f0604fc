package mihealth

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/phqovo/slimming/internal/errors"
	"github.com/phqovo/slimming/internal/models"
)

const (
	fitnessDataEndpoint  = "/app/v1/data/get_fitness_data_by_time"
	sportRecordsEndpoint = "/app/v1/data/get_sport_records_by_time"
)

// categorySpec describes how one data category is fetched and normalized.
type categorySpec struct {
	endpoint string
	// listKey is the field of the result object carrying the item array.
	listKey string
	// paramKey is the "key" request parameter; empty for the sport endpoint,
	// which serves a single record type.
	paramKey  string
	normalize func(item rawItem, value map[string]any) (models.NormalizedRecord, error)
}

var categorySpecs = map[models.Category]categorySpec{
	models.CategorySleep: {
		endpoint:  fitnessDataEndpoint,
		listKey:   "data_list",
		paramKey:  "sleep",
		normalize: normalizeSleep,
	},
	models.CategoryExercise: {
		endpoint:  sportRecordsEndpoint,
		listKey:   "sport_records",
		normalize: normalizeExercise,
	},
	models.CategoryWeight: {
		endpoint:  fitnessDataEndpoint,
		listKey:   "data_list",
		paramKey:  "weight",
		normalize: normalizeWeight,
	},
	models.CategorySteps: {
		endpoint:  fitnessDataEndpoint,
		listKey:   "data_list",
		paramKey:  "steps",
		normalize: normalizeSteps,
	},
}

func specFor(category models.Category) (categorySpec, error) {
	spec, ok := categorySpecs[category]
	if !ok {
		return categorySpec{}, &errors.ErrUnsupportedCategory{Category: string(category)}
	}
	return spec, nil
}

// rawItem is one element of the platform's item arrays. The measurement
// itself is double-encoded: Value is a JSON document in a string.
type rawItem struct {
	Time     int64  `json:"time"`
	Value    string `json:"value"`
	Category string `json:"category,omitempty"`
}

// normalizeItem maps one raw platform item into a NormalizedRecord. The
// fingerprint is computed over the canonical raw item, not the parsed value,
// so it survives field-mapping changes.
func normalizeItem(userID int64, category models.Category, raw json.RawMessage) (models.NormalizedRecord, error) {
	var item rawItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return models.NormalizedRecord{}, err
	}

	var value map[string]any
	if item.Value != "" {
		if err := json.Unmarshal([]byte(item.Value), &value); err != nil {
			return models.NormalizedRecord{}, err
		}
	}

	spec, err := specFor(category)
	if err != nil {
		return models.NormalizedRecord{}, err
	}

	record, err := spec.normalize(item, value)
	if err != nil {
		return models.NormalizedRecord{}, err
	}

	fingerprint, err := models.Fingerprint(raw)
	if err != nil {
		return models.NormalizedRecord{}, err
	}
	record.UserID = userID
	record.DataSource = models.DataSourceMiHealth
	record.Category = category
	record.Fingerprint = fingerprint
	record.SourceID = strconv.FormatInt(item.Time, 10)
	record.Raw = string(raw)
	return record, nil
}

func normalizeSleep(item rawItem, value map[string]any) (models.NormalizedRecord, error) {
	bedtime := time.Unix(num(value, "bedtime"), 0)
	wake := time.Unix(num(value, "wake_up_time"), 0)

	return models.NormalizedRecord{
		RecordDate: models.CivilDate(bedtime),
		StartTime:  bedtime,
		EndTime:    wake,
		Metrics: models.Metrics{
			"duration_minutes": fnum(value, "duration"),
			"deep_minutes":     fnum(value, "sleep_deep_duration"),
			"light_minutes":    fnum(value, "sleep_light_duration"),
			"rem_minutes":      fnum(value, "sleep_rem_duration"),
			"awake_minutes":    fnum(value, "sleep_awake_duration"),
		},
	}, nil
}

func normalizeExercise(item rawItem, value map[string]any) (models.NormalizedRecord, error) {
	start := num(value, "start_time")
	if start == 0 {
		start = item.Time
	}
	durationSec := num(value, "duration")
	end := num(value, "end_time")
	if end == 0 {
		end = start + durationSec
	}

	return models.NormalizedRecord{
		RecordDate:   models.CivilDate(time.Unix(start, 0)),
		StartTime:    time.Unix(start, 0),
		EndTime:      time.Unix(end, 0),
		ExerciseType: ExerciseTypeName(item.Category),
		Metrics: models.Metrics{
			"duration_minutes": float64(durationSec / 60),
			"distance_meters":  fnum(value, "distance"),
			"calories":         fnum(value, "calories"),
			"steps":            fnum(value, "steps"),
			"avg_heart_rate":   fnum(value, "avg_hrm"),
			"max_heart_rate":   fnum(value, "max_hrm"),
		},
	}, nil
}

func normalizeWeight(item rawItem, value map[string]any) (models.NormalizedRecord, error) {
	measured := time.Unix(item.Time, 0)

	return models.NormalizedRecord{
		RecordDate: models.CivilDate(measured),
		StartTime:  measured,
		EndTime:    measured,
		Metrics: models.Metrics{
			"weight_kg":        fnum(value, "weight"),
			"bmi":              fnum(value, "bmi"),
			"body_fat_rate":    fnum(value, "body_fat_rate"),
			"muscle_mass":      fnum(value, "muscle_mass"),
			"bone_mass":        fnum(value, "bone_mass"),
			"water_mass":       fnum(value, "body_moisture_mass"),
			"protein_mass":     fnum(value, "protein_mass"),
			"basal_metabolism": fnum(value, "basal_metabolism"),
			"visceral_fat":     fnum(value, "visceral_fat"),
			"heart_rate":       fnum(value, "bpm"),
		},
	}, nil
}

func normalizeSteps(item rawItem, value map[string]any) (models.NormalizedRecord, error) {
	// The daily step summary carries its date in milliseconds, unlike every
	// other category.
	day := time.Unix(num(value, "date")/1000, 0)

	return models.NormalizedRecord{
		RecordDate: models.CivilDate(day),
		StartTime:  day,
		EndTime:    day,
		Metrics: models.Metrics{
			"steps":           fnum(value, "step"),
			"distance_meters": fnum(value, "distance"),
			"calories":        fnum(value, "calories"),
			"active_minutes":  float64(num(value, "ttm") / 60),
		},
	}, nil
}

func fnum(m map[string]any, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}

func num(m map[string]any, key string) int64 {
	return int64(fnum(m, key))
}

// exerciseTypeNames maps the platform's workout category tokens to display
// names. Unknown tokens pass through unchanged.
var exerciseTypeNames = map[string]string{
	"running":                "Running",
	"outdoor_running":        "Outdoor Running",
	"indoor_running":         "Indoor Running",
	"treadmill":              "Treadmill",
	"walking":                "Walking",
	"outdoor_walking":        "Outdoor Walking",
	"indoor_walking":         "Indoor Walking",
	"cycling":                "Cycling",
	"outdoor_cycling":        "Outdoor Cycling",
	"indoor_cycling":         "Indoor Cycling",
	"swimming":               "Swimming",
	"pool_swimming":          "Pool Swimming",
	"open_water_swimming":    "Open Water Swimming",
	"free_training":          "Free Training",
	"strength_training":      "Strength Training",
	"hiit":                   "HIIT",
	"high_interval_training": "HIIT",
	"core_training":          "Core Training",
	"crossfit":               "CrossFit",
	"basketball":             "Basketball",
	"football":               "Football",
	"badminton":              "Badminton",
	"table_tennis":           "Table Tennis",
	"tennis":                 "Tennis",
	"volleyball":             "Volleyball",
	"yoga":                   "Yoga",
	"dance":                  "Dance",
	"aerobics":               "Aerobics",
	"zumba":                  "Zumba",
	"hiking":                 "Hiking",
	"climbing":               "Climbing",
	"trail_running":          "Trail Running",
	"outdoor_hiking":         "Outdoor Hiking",
	"rope_skipping":          "Rope Skipping",
	"elliptical":             "Elliptical",
	"rowing":                 "Rowing",
	"skiing":                 "Skiing",
	"skating":                "Skating",
	"boxing":                 "Boxing",
	"martial_arts":           "Martial Arts",
	"pilates":                "Pilates",
	"spinning":               "Spinning",
	"stair_climbing":         "Stair Climbing",
	"other":                  "Other",
}

// ExerciseTypeName resolves a workout category token to its display name.
func ExerciseTypeName(token string) string {
	if name, ok := exerciseTypeNames[token]; ok {
		return name
	}
	return token
}
