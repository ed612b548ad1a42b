package repo

import (
	"fleetward/app/models"

	"gorm.io/gorm"
)

type MetricRepository struct{ db *gorm.DB }

func NewMetricRepository(db *gorm.DB) *MetricRepository { return &MetricRepository{db: db} }

func (r *MetricRepository) Create(m *models.Metric) error {
	return r.db.Create(m).Error
}

// Latest returns the newest sample for a device, nil when the collectors
// have not reported yet.
func (r *MetricRepository) Latest(deviceID uint) (*models.Metric, error) {
	var m models.Metric
	err := r.db.Where("device_id = ?", deviceID).
		Order("collected_at DESC, id DESC").
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}
