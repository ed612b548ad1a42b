package models

import "time"

// Metric is one sample written by the external inventory/metrics
// producers; the engine only reads these.
type Metric struct {
	ID            uint      `gorm:"primaryKey"`
	DeviceID      uint      `gorm:"index"`
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	ProtectionOK  bool
	FirewallOK    bool
	PatchAgeDays  int
	PolicyDrift   int // count of policy deviations reported by the collector
	CollectedAt   time.Time `gorm:"index"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}
