package repo

import (
	"time"

	"fleetward/app/models"

	"gorm.io/gorm"
)

type AlertRepository struct{ db *gorm.DB }

func NewAlertRepository(db *gorm.DB) *AlertRepository { return &AlertRepository{db: db} }

func (r *AlertRepository) Create(a *models.Alert) error {
	return r.db.Create(a).Error
}

func (r *AlertRepository) FindByID(id uint) (*models.Alert, error) {
	var a models.Alert
	if err := r.db.First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// FindUnresolved returns the open incident for a (device, type) pair, if
// any; at most one exists at a time.
func (r *AlertRepository) FindUnresolved(deviceID uint, alertType string) (*models.Alert, error) {
	var a models.Alert
	err := r.db.Where("device_id = ? AND type = ? AND resolved_at IS NULL", deviceID, alertType).
		First(&a).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// BumpOccurrence folds a repeated trigger into the open incident.
func (r *AlertRepository) BumpOccurrence(id uint, severity models.AlertSeverity, message string, at time.Time) error {
	return r.db.Model(&models.Alert{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"count":        gorm.Expr("count + 1"),
			"severity":     severity,
			"message":      message,
			"last_seen_at": at,
		}).Error
}

func (r *AlertRepository) Acknowledge(id uint, by string, at time.Time) (bool, error) {
	res := r.db.Model(&models.Alert{}).
		Where("id = ? AND acknowledged_at IS NULL AND resolved_at IS NULL", id).
		Updates(map[string]any{
			"acknowledged_at": at,
			"acknowledged_by": by,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *AlertRepository) Resolve(id uint, by string, auto bool, at time.Time) (bool, error) {
	res := r.db.Model(&models.Alert{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Updates(map[string]any{
			"resolved_at":   at,
			"resolved_by":   by,
			"auto_resolved": auto,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *AlertRepository) ListUnresolved() ([]models.Alert, error) {
	var out []models.Alert
	err := r.db.Where("resolved_at IS NULL").
		Order("created_at DESC").Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
