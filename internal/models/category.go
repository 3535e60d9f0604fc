package models

import "github.com/phqovo/slimming/internal/errors"

// Category identifies one of the fitness-data kinds the engine synchronizes.
// The set is closed: adding a category means adding a mapping table entry in
// the fetch layer, not new branches across components.
type Category string

const (
	CategorySleep    Category = "sleep"
	CategoryExercise Category = "exercise"
	CategoryWeight   Category = "weight"
	CategorySteps    Category = "steps"
)

// AllCategories lists every supported category in a stable order.
func AllCategories() []Category {
	return []Category{CategorySleep, CategoryExercise, CategoryWeight, CategorySteps}
}

// ParseCategory validates a raw category string.
func ParseCategory(raw string) (Category, error) {
	switch Category(raw) {
	case CategorySleep, CategoryExercise, CategoryWeight, CategorySteps:
		return Category(raw), nil
	}
	return "", &errors.ErrUnsupportedCategory{Category: raw}
}

// Mergeable reports whether the category projects into a user-editable local
// table. Steps feed daily summaries only and have no local record type.
func (c Category) Mergeable() bool {
	return c == CategorySleep || c == CategoryExercise || c == CategoryWeight
}
