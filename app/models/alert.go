package models

import "time"

type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "Critical"
	SeverityHigh     AlertSeverity = "High"
	SeverityMedium   AlertSeverity = "Medium"
	SeverityLow      AlertSeverity = "Low"
	SeverityInfo     AlertSeverity = "Info"
)

// Alert rows are never hard-deleted; Resolved is terminal and archival is
// a retention move, not a state transition.
type Alert struct {
	ID             uint          `gorm:"primaryKey"`
	DeviceID       uint          `gorm:"index:idx_alert_dedup"`
	Type           string        `gorm:"size:64;index:idx_alert_dedup"`
	Severity       AlertSeverity `gorm:"size:16"`
	Title          string        `gorm:"size:255"`
	Message        string        `gorm:"size:2048"`
	Count          int           `gorm:"default:1"` // dedup occurrences folded into this row
	LastSeenAt     time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	AcknowledgedAt *time.Time
	AcknowledgedBy string `gorm:"size:128"`
	ResolvedAt     *time.Time
	ResolvedBy     string `gorm:"size:128"`
	AutoResolved   bool   `gorm:"default:false"`
}

// Resolved reports whether the incident is closed.
func (a *Alert) Resolved() bool { return a.ResolvedAt != nil }
