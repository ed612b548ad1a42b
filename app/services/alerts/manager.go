package alerts

import (
	"context"
	"strconv"
	"sync"
	"time"

	"fleetward/app/models"
	"fleetward/app/repo"
	"fleetward/app/services/rbac"
	"fleetward/faults"

	"github.com/rs/zerolog"
)

// Well-known alert types raised by the engine itself.
const (
	TypeActionFailed   = "action_failed"
	TypeHealthDegraded = "health_degraded"
	TypeDeviceOffline  = "device_offline"
)

// Manager owns the alert lifecycle: raise with dedup, acknowledge,
// resolve. Alert rows are never hard-deleted.
type Manager struct {
	alerts  *repo.AlertRepository
	gate    *rbac.Gate
	auditor *rbac.Auditor
	log     zerolog.Logger

	mu     sync.RWMutex
	window time.Duration
}

func NewManager(alerts *repo.AlertRepository, gate *rbac.Gate, auditor *rbac.Auditor, window time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		alerts:  alerts,
		gate:    gate,
		auditor: auditor,
		window:  window,
		log:     log.With().Str("component", "alerts").Logger(),
	}
}

// SetWindow applies a hot-reloaded dedup window to future raises.
func (m *Manager) SetWindow(w time.Duration) {
	m.mu.Lock()
	m.window = w
	m.mu.Unlock()
}

func (m *Manager) dedupWindow() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.window
}

// Raise opens an incident for (device, type), or folds the trigger into
// the existing unresolved one: repeated breaches bump its count instead
// of creating rows, so a flapping condition cannot storm the table. An
// unresolved incident quiet for longer than the dedup window is stale;
// it is auto-resolved and the trigger opens a fresh incident.
func (m *Manager) Raise(ctx context.Context, deviceID uint, alertType string, severity models.AlertSeverity, title, message string) (uint, error) {
	existing, err := m.alerts.FindUnresolved(deviceID, alertType)
	if err != nil {
		return 0, faults.Wrap(faults.KindFatal, "alert dedup lookup failed", err)
	}
	now := time.Now()
	if existing != nil {
		if w := m.dedupWindow(); w > 0 && now.Sub(existing.LastSeenAt) > w {
			if err := m.Resolve(ctx, rbac.SystemActor, existing.ID, true); err != nil {
				return 0, err
			}
			m.log.Info().Uint("alert", existing.ID).Uint("device", deviceID).
				Str("type", alertType).Msg("stale incident closed past dedup window")
			existing = nil
		}
	}
	if existing != nil {
		if err := m.alerts.BumpOccurrence(existing.ID, severity, message, now); err != nil {
			return 0, faults.Wrap(faults.KindFatal, "alert occurrence update failed", err)
		}
		m.log.Debug().Uint("alert", existing.ID).Uint("device", deviceID).
			Str("type", alertType).Msg("deduplicated repeated trigger")
		return existing.ID, nil
	}
	a := &models.Alert{
		DeviceID:   deviceID,
		Type:       alertType,
		Severity:   severity,
		Title:      title,
		Message:    message,
		LastSeenAt: now,
	}
	if err := m.alerts.Create(a); err != nil {
		return 0, faults.Wrap(faults.KindFatal, "alert create failed", err)
	}
	m.log.Info().Uint("alert", a.ID).Uint("device", deviceID).
		Str("type", alertType).Str("severity", string(severity)).Msg("alert raised")
	return a.ID, nil
}

// Acknowledge moves Active -> Acknowledged; acknowledging a resolved or
// already-acknowledged alert is a reported configuration error.
func (m *Manager) Acknowledge(ctx context.Context, actor rbac.Actor, alertID uint) error {
	if err := m.gate.Assert(rbac.PermAlertWrite, actor.Role); err != nil {
		return err
	}
	ok, err := m.alerts.Acknowledge(alertID, actor.Name, time.Now())
	if err != nil {
		return faults.Wrap(faults.KindFatal, "alert acknowledge failed", err)
	}
	if !ok {
		return faults.Newf(faults.KindConfiguration, "alert %d is not in an acknowledgeable state", alertID)
	}
	m.auditor.Write(actor, "alert.acknowledge", []string{idString(alertID)}, "ok", "")
	return nil
}

// Resolve closes the incident. auto=true marks engine-driven resolution
// so the trail keeps the operator-vs-automatic distinction.
func (m *Manager) Resolve(ctx context.Context, actor rbac.Actor, alertID uint, auto bool) error {
	if err := m.gate.Assert(rbac.PermAlertWrite, actor.Role); err != nil {
		return err
	}
	ok, err := m.alerts.Resolve(alertID, actor.Name, auto, time.Now())
	if err != nil {
		return faults.Wrap(faults.KindFatal, "alert resolve failed", err)
	}
	if !ok {
		return faults.Newf(faults.KindConfiguration, "alert %d is already resolved", alertID)
	}
	m.auditor.Write(actor, "alert.resolve", []string{idString(alertID)}, "ok", "")
	return nil
}

// ResolveMatching closes the unresolved (device, type) incident if one
// exists; used by the scoring and execution engines when they observe
// the triggering condition cleared.
func (m *Manager) ResolveMatching(ctx context.Context, deviceID uint, alertType string) error {
	existing, err := m.alerts.FindUnresolved(deviceID, alertType)
	if err != nil {
		return faults.Wrap(faults.KindFatal, "alert lookup failed", err)
	}
	if existing == nil {
		return nil
	}
	return m.Resolve(ctx, rbac.SystemActor, existing.ID, true)
}

func idString(id uint) string { return strconv.FormatUint(uint64(id), 10) }
