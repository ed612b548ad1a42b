package models

import "time"

// DeviceStatus is the coarse health state shown on the fleet board.
type DeviceStatus string

const (
	DeviceUnknown        DeviceStatus = "Unknown"
	DeviceOnline         DeviceStatus = "Online"
	DeviceOffline        DeviceStatus = "Offline"
	DeviceWarning        DeviceStatus = "Warning"
	DeviceCritical       DeviceStatus = "Critical"
	DeviceMaintenance    DeviceStatus = "Maintenance"
	DeviceDecommissioned DeviceStatus = "Decommissioned"
)

type Device struct {
	ID            uint         `gorm:"primaryKey"`
	UUID          string       `gorm:"uniqueIndex;size:191;not null"`
	Hostname      string       `gorm:"size:255;index"`
	IP            string       `gorm:"size:64"`
	MAC           string       `gorm:"size:64"`
	Site          string       `gorm:"size:128;index"`
	Type          string       `gorm:"size:64"`
	Status        DeviceStatus `gorm:"size:32;index;default:Unknown"`
	LastSeen      *time.Time
	LastInventory *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
