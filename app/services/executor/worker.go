package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleetward/app/models"
	"fleetward/app/services/alerts"
	"fleetward/faults"
	"fleetward/transport"
)

// errCancelled marks a cooperative cancellation observed mid-flight; the
// action still ends Failed (Running has no path to Cancelled) but no
// alert is raised for an operator-requested stop.
var errCancelled = faults.New(faults.KindConfiguration, "cancelled by operator")

// execute owns one claimed action end to end: channel acquisition,
// remote execution with retry, and the terminal status write.
func (e *Engine) execute(ctx context.Context, a *models.Action, deviceID uint) {
	device, err := e.devices.FindByID(deviceID)
	if err != nil {
		e.finishFailed(ctx, a, nil, faults.Wrap(faults.KindConfiguration,
			fmt.Sprintf("device %d not found for action %d", deviceID, a.ID), err))
		return
	}

	res, err := e.attempt(ctx, a, device)
	if err != nil {
		e.finishFailed(ctx, a, device, err)
		return
	}
	e.finishCompleted(ctx, a, device, res)
}

// attempt runs the operation, retrying Transient failures with
// exponential backoff. Backoff sleeps are cancellable; the cooperative
// cancel flag is observed between attempts.
func (e *Engine) attempt(ctx context.Context, a *models.Action, device *models.Device) (*transport.Result, error) {
	policy := e.retryPolicy()
	delay := policy.InitialDelay
	var lastErr error

	for attemptNo := 0; attemptNo <= policy.MaxRetries; attemptNo++ {
		if attemptNo > 0 {
			if err := e.sleep(ctx, delay); err != nil {
				return nil, faults.Wrap(faults.KindTransient, "cancelled during retry backoff", err)
			}
			delay *= 2
			if flagged, err := e.actions.CancelFlagged(a.ID); err == nil && flagged {
				return nil, fmt.Errorf("after %d attempts: %w", attemptNo, errCancelled)
			}
		}
		if err := e.actions.IncrementAttempts(a.ID); err != nil {
			e.log.Error().Err(err).Uint("action", a.ID).Msg("attempt counter update failed")
		}

		res, err := e.runOnce(ctx, a, device)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !faults.Retryable(err) {
			return nil, err
		}
		e.log.Warn().Err(err).Uint("action", a.ID).Str("device", device.Hostname).
			Int("attempt", attemptNo+1).Msg("transient failure, will retry")
	}
	return nil, faults.Wrap(faults.KindDevice,
		fmt.Sprintf("retries exhausted after %d attempts", policy.MaxRetries+1), lastErr)
}

func (e *Engine) runOnce(ctx context.Context, a *models.Action, device *models.Device) (*transport.Result, error) {
	target := device.Hostname
	if target == "" {
		target = device.IP
	}
	if target == "" {
		return nil, faults.Newf(faults.KindConfiguration, "device %d has no hostname or IP", device.ID)
	}
	cred, _ := e.secrets.Get(credentialName(device))

	opCtx, cancel := context.WithTimeout(ctx, e.opTimeout())
	defer cancel()

	ch, err := e.pool.Acquire(opCtx, target, cred)
	if err != nil {
		return nil, err
	}
	defer e.pool.Release(target, ch)

	return ch.Execute(opCtx, transport.Operation{
		Name:    a.Type,
		Payload: json.RawMessage(a.Payload),
	})
}

// credentialName resolves the secret-store entry for a device: a
// site-scoped credential when the site defines one, the fleet default
// otherwise.
func credentialName(device *models.Device) string {
	if device.Site != "" {
		return "site-" + device.Site
	}
	return "default"
}

func (e *Engine) finishCompleted(ctx context.Context, a *models.Action, device *models.Device, res *transport.Result) {
	raw, err := json.Marshal(res)
	if err != nil {
		raw = []byte("{}")
	}
	ok, err := e.actions.Complete(a.ID, models.ActionCompleted, string(raw), "", time.Now())
	if err != nil {
		e.log.Error().Err(err).Uint("action", a.ID).Msg("completion write failed")
		return
	}
	if !ok {
		e.log.Error().Uint("action", a.ID).Msg("illegal transition: action left Running before completion")
		return
	}
	now := time.Now()
	if err := e.devices.Touch(device.ID, now); err != nil {
		e.log.Error().Err(err).Uint("device", device.ID).Msg("last-seen update failed")
	}
	if err := e.alertMgr.ResolveMatching(ctx, device.ID, alerts.TypeActionFailed); err != nil {
		e.log.Error().Err(err).Uint("device", device.ID).Msg("auto-resolve failed")
	}
	e.log.Info().Uint("action", a.ID).Str("type", a.Type).Str("device", device.Hostname).Msg("action completed")
}

// finishFailed writes the Failed status with a human-readable account,
// marks the device Offline when one is identified, and raises exactly
// one alert (dedup folds repeats).
func (e *Engine) finishFailed(ctx context.Context, a *models.Action, device *models.Device, cause error) {
	explanation := fmt.Sprintf("%s against %s failed: %v", a.Type, targetName(device), cause)
	ok, err := e.actions.Complete(a.ID, models.ActionFailed, "", explanation, time.Now())
	if err != nil {
		e.log.Error().Err(err).Uint("action", a.ID).Msg("failure write failed")
		return
	}
	if !ok {
		e.log.Error().Uint("action", a.ID).Msg("illegal transition: action left Running before failure write")
		return
	}
	e.log.Error().Err(cause).Uint("action", a.ID).Str("type", a.Type).
		Str("device", targetName(device)).Msg("action failed")

	if device == nil || errors.Is(cause, errCancelled) {
		return
	}
	kind := faults.KindOf(cause)
	if kind == faults.KindDevice {
		if err := e.devices.UpdateStatus(device.ID, models.DeviceOffline); err != nil {
			e.log.Error().Err(err).Uint("device", device.ID).Msg("offline mark failed")
		}
	}
	if _, err := e.alertMgr.Raise(ctx, device.ID, alerts.TypeActionFailed, severityFor(kind),
		fmt.Sprintf("%s failed on %s", a.Type, device.Hostname), explanation); err != nil {
		e.log.Error().Err(err).Uint("device", device.ID).Msg("alert raise failed")
	}
}

func targetName(device *models.Device) string {
	if device == nil {
		return "unknown device"
	}
	if device.Hostname != "" {
		return device.Hostname
	}
	return device.IP
}

func severityFor(kind faults.Kind) models.AlertSeverity {
	switch kind {
	case faults.KindDevice:
		return models.SeverityHigh
	case faults.KindConfiguration:
		return models.SeverityMedium
	default:
		return models.SeverityMedium
	}
}
