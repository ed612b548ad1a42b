package repo

import (
	"time"

	"fleetward/app/models"

	"gorm.io/gorm"
)

type ActionRepository struct {
	db *gorm.DB
}

func NewActionRepository(db *gorm.DB) *ActionRepository {
	return &ActionRepository{db: db}
}

func (r *ActionRepository) Create(a *models.Action) error {
	return r.db.Create(a).Error
}

func (r *ActionRepository) FindByID(id uint) (*models.Action, error) {
	var a models.Action
	if err := r.db.First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// DuePending returns dispatchable actions: scheduled time reached, still
// Pending, highest priority first, then oldest first.
func (r *ActionRepository) DuePending(now time.Time, limit int) ([]models.Action, error) {
	var out []models.Action
	err := r.db.Where("status = ? AND scheduled_at <= ?", models.ActionPending, now).
		Order("priority DESC, created_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Claim performs the Pending->Running transition as one conditional
// update so two dispatchers can never both own the same action. Returns
// false when the row was already claimed, cancelled, or completed.
func (r *ActionRepository) Claim(id uint, at time.Time) (bool, error) {
	res := r.db.Model(&models.Action{}).
		Where("id = ? AND status = ?", id, models.ActionPending).
		Updates(map[string]any{
			"status":     models.ActionRunning,
			"started_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Complete writes the terminal status, result and completion time in one
// update, conditional on the row still being Running.
func (r *ActionRepository) Complete(id uint, status models.ActionStatus, result, lastError string, at time.Time) (bool, error) {
	res := r.db.Model(&models.Action{}).
		Where("id = ? AND status = ?", id, models.ActionRunning).
		Updates(map[string]any{
			"status":       status,
			"result":       result,
			"last_error":   lastError,
			"completed_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Cancel is legal only from Pending.
func (r *ActionRepository) Cancel(id uint, at time.Time) (bool, error) {
	res := r.db.Model(&models.Action{}).
		Where("id = ? AND status = ?", id, models.ActionPending).
		Updates(map[string]any{
			"status":       models.ActionCancelled,
			"completed_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FlagCancel marks a Running action for cooperative cancellation; the
// owning worker observes the flag between retry attempts.
func (r *ActionRepository) FlagCancel(id uint) error {
	return r.db.Model(&models.Action{}).
		Where("id = ? AND status = ?", id, models.ActionRunning).
		Update("cancel_flag", true).Error
}

func (r *ActionRepository) CancelFlagged(id uint) (bool, error) {
	var a models.Action
	if err := r.db.Select("cancel_flag").First(&a, id).Error; err != nil {
		return false, err
	}
	return a.CancelFlag, nil
}

func (r *ActionRepository) IncrementAttempts(id uint) error {
	return r.db.Model(&models.Action{}).
		Where("id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1")).Error
}

func (r *ActionRepository) ListByDevice(deviceID uint, limit int) ([]models.Action, error) {
	var out []models.Action
	err := r.db.Where("device_id = ?", deviceID).
		Order("id DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
