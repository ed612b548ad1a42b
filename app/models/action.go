package models

import "time"

// ActionStatus moves monotonically through the queue state machine:
// Pending -> Running -> Completed|Failed, or Pending -> Cancelled.
type ActionStatus string

const (
	ActionPending   ActionStatus = "Pending"
	ActionRunning   ActionStatus = "Running"
	ActionCompleted ActionStatus = "Completed"
	ActionFailed    ActionStatus = "Failed"
	ActionCancelled ActionStatus = "Cancelled"
)

// Action is a queued remote operation against one device (DeviceID nil
// for broadcast intents that fan out at enqueue time).
type Action struct {
	ID          uint         `gorm:"primaryKey"`
	DeviceID    *uint        `gorm:"index"`
	Type        string       `gorm:"size:64;index"`
	Status      ActionStatus `gorm:"size:32;index;default:Pending"`
	Priority    int          `gorm:"index;default:5"` // 1..10, higher dispatches first
	Payload     string       `gorm:"type:longtext"`   // JSON, tagged by Type
	Result      string       `gorm:"type:longtext"`
	LastError   string       `gorm:"size:1024"`
	Attempts    int          `gorm:"default:0"`
	CancelFlag  bool         `gorm:"default:false"` // cooperative, observed by a running worker
	CreatedBy   string       `gorm:"size:128"`
	ScheduledAt time.Time    `gorm:"index"`
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// ValidTransition reports whether from -> to is a legal queue move.
func ValidTransition(from, to ActionStatus) bool {
	switch from {
	case ActionPending:
		return to == ActionRunning || to == ActionCancelled
	case ActionRunning:
		return to == ActionCompleted || to == ActionFailed
	}
	return false
}
