package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"society-ledger-backend/internal/models"
)

type UnitMappingRepository struct {
	db *gorm.DB
}

func NewUnitMappingRepository(db *gorm.DB) *UnitMappingRepository {
	return &UnitMappingRepository{db: db}
}

func (r *UnitMappingRepository) DB() *gorm.DB {
	return r.db
}

// ActiveMappings lists all non-archived, non-inactive mappings.
func (r *UnitMappingRepository) ActiveMappings() ([]models.UnitMapping, error) {
	var mappings []models.UnitMapping
	err := r.db.
		Where("status = ?", models.MappingActive).
		Order("unit_id ASC").
		Find(&mappings).Error
	return mappings, err
}

// GetByUnitID fetches a single mapping by its stable unit id.
func (r *UnitMappingRepository) GetByUnitID(unitID string) (*models.UnitMapping, error) {
	var m models.UnitMapping
	if err := r.db.First(&m, "unit_id = ?", unitID).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// Upsert is the admin "train" action: create the mapping or replace its
// alias sets for an existing unit id.
func (r *UnitMappingRepository) Upsert(m *models.UnitMapping) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = models.MappingActive
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "unit_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"unit_type", "owner_names", "vpa_aliases", "relationship", "status", "trained_by", "updated_at",
		}),
	}).Create(m).Error
}
