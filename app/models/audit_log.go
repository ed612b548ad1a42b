package models

import "time"

// AuditLogEntry is append-only; the repo exposes no update or delete.
type AuditLogEntry struct {
	ID            uint      `gorm:"primaryKey"`
	EntryUUID     string    `gorm:"size:191;uniqueIndex"`
	Timestamp     time.Time `gorm:"index"`
	User          string    `gorm:"size:128;index"`
	Role          string    `gorm:"size:64"`
	Action        string    `gorm:"size:128;index"`
	Targets       string    `gorm:"size:2048"` // comma-joined target identifiers
	Result        string    `gorm:"size:64"`
	SourceAddress string    `gorm:"size:64"`
	Details       string    `gorm:"type:longtext"`
}
