package models

import "time"

// Category classifies a detection trigger
type Category string

const (
	CategoryMotion   Category = "motion"
	CategoryPerson   Category = "person"
	CategoryVehicle  Category = "vehicle"
	CategoryPackage  Category = "package"
	CategoryAnimal   Category = "animal"
	CategoryDoorbell Category = "doorbell-ring"
)

// KnownCategories lists every valid trigger category
var KnownCategories = []Category{
	CategoryMotion,
	CategoryPerson,
	CategoryVehicle,
	CategoryPackage,
	CategoryAnimal,
	CategoryDoorbell,
}

// ValidCategory reports whether s names a known category
func ValidCategory(s string) bool {
	for _, c := range KnownCategories {
		if string(c) == s {
			return true
		}
	}
	return false
}

// DetectionTrigger is the raw signal from a source. It is ephemeral:
// consumed by the orchestrator, never persisted standalone.
type DetectionTrigger struct {
	Category   Category  `json:"category"`
	SourceUUID string    `json:"source_id"`
	SourceName string    `json:"-"`
	Timestamp  time.Time `json:"timestamp"`
}
