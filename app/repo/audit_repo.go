package repo

import (
	"fleetward/app/models"

	"gorm.io/gorm"
)

// AuditRepository is deliberately append-only: no update, no delete.
type AuditRepository struct{ db *gorm.DB }

func NewAuditRepository(db *gorm.DB) *AuditRepository { return &AuditRepository{db: db} }

func (r *AuditRepository) Append(e *models.AuditLogEntry) error {
	return r.db.Create(e).Error
}

func (r *AuditRepository) ListRecent(limit int) ([]models.AuditLogEntry, error) {
	var out []models.AuditLogEntry
	err := r.db.Order("id DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
