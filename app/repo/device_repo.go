package repo

import (
	"time"

	"fleetward/app/models"

	"gorm.io/gorm"
)

type DeviceRepository struct{ db *gorm.DB }

func NewDeviceRepository(db *gorm.DB) *DeviceRepository { return &DeviceRepository{db: db} }

func (r *DeviceRepository) FindByID(id uint) (*models.Device, error) {
	var d models.Device
	if err := r.db.First(&d, id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DeviceRepository) FindByUUID(uuid string) (*models.Device, error) {
	var d models.Device
	if err := r.db.Where("uuid = ?", uuid).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DeviceRepository) Upsert(d *models.Device) error {
	var existing models.Device
	if err := r.db.Where("uuid = ?", d.UUID).First(&existing).Error; err == nil {
		d.ID = existing.ID
		return r.db.Save(d).Error
	}
	return r.db.Create(d).Error
}

func (r *DeviceRepository) ListAll() ([]models.Device, error) {
	var out []models.Device
	if err := r.db.Order("hostname ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *DeviceRepository) ListActive() ([]models.Device, error) {
	var out []models.Device
	err := r.db.Where("status <> ?", models.DeviceDecommissioned).
		Order("hostname ASC").Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *DeviceRepository) UpdateStatus(id uint, status models.DeviceStatus) error {
	return r.db.Model(&models.Device{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// Touch records a successful contact with the device.
func (r *DeviceRepository) Touch(id uint, at time.Time) error {
	return r.db.Model(&models.Device{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_seen": at}).Error
}
