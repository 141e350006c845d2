package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Unit types. "other" units carry no established dues rate and are excluded
// from payment splitting.
const (
	UnitTypeOffice    = "office"
	UnitTypeShop      = "shop"
	UnitTypeApartment = "apartment"
	UnitTypeFlat      = "flat"
	UnitTypeOther     = "other"
)

// Mapping lifecycle states.
const (
	MappingActive   = "active"
	MappingInactive = "inactive"
	MappingArchived = "archived"
)

// UnitMapping ties a billable unit to the known name and VPA aliases of its
// biller-of-record. Aliases grow only through explicit admin train actions,
// never from matcher output.
type UnitMapping struct {
	ID           uuid.UUID                  `gorm:"type:uuid;primaryKey"`
	UnitID       string                     `gorm:"uniqueIndex"`
	UnitType     string                     `gorm:"index"`
	OwnerNames   datatypes.JSONSlice[string]
	VPAAliases   datatypes.JSONSlice[string]
	Relationship string
	Status       string `gorm:"index"`
	TrainedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
