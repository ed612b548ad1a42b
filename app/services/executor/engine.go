package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"fleetward/app/models"
	"fleetward/app/repo"
	"fleetward/app/services/alerts"
	"fleetward/app/services/rbac"
	"fleetward/app/services/secret"
	"fleetward/app/services/sessionpool"
	"fleetward/config"
	"fleetward/faults"

	"github.com/rs/zerolog"
)

// Engine drives the action queue: it pulls due Pending rows, claims
// each one atomically, executes it over a pooled channel under the
// global concurrency bound, and writes the terminal status back.
type Engine struct {
	actions  *repo.ActionRepository
	devices  *repo.DeviceRepository
	pool     *sessionpool.Pool
	secrets  secret.Store
	alertMgr *alerts.Manager
	gate     *rbac.Gate
	auditor  *rbac.Auditor
	registry *Registry
	log      zerolog.Logger

	cfgMu       sync.RWMutex
	retry       config.Retry
	throttle    int
	execTimeout time.Duration

	sem chan struct{}

	// inflight tracks devices currently running a non-reentrant action;
	// admission, not storage, enforces per-target serialization.
	inflightMu sync.Mutex
	inflight   map[uint]bool

	wg sync.WaitGroup

	// test seam: sleeps between retries.
	sleep func(ctx context.Context, d time.Duration) error
}

type Options struct {
	Retry       config.Retry
	Throttle    int
	ExecTimeout time.Duration
}

func New(actions *repo.ActionRepository, devices *repo.DeviceRepository, pool *sessionpool.Pool, secrets secret.Store, alertMgr *alerts.Manager, gate *rbac.Gate, auditor *rbac.Auditor, registry *Registry, opts Options, log zerolog.Logger) *Engine {
	if opts.Throttle <= 0 {
		opts.Throttle = 50
	}
	if opts.Retry.MaxRetries < 0 {
		opts.Retry.MaxRetries = 0
	}
	if opts.Retry.InitialDelay <= 0 {
		opts.Retry.InitialDelay = 2 * time.Second
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = 60 * time.Second
	}
	return &Engine{
		actions:     actions,
		devices:     devices,
		pool:        pool,
		secrets:     secrets,
		alertMgr:    alertMgr,
		gate:        gate,
		auditor:     auditor,
		registry:    registry,
		log:         log.With().Str("component", "executor").Logger(),
		retry:       opts.Retry,
		throttle:    opts.Throttle,
		execTimeout: opts.ExecTimeout,
		sem:         make(chan struct{}, opts.Throttle),
		inflight:    make(map[uint]bool),
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetOptions applies hot-reloaded throttle and retry settings. Workers
// already in flight keep the bound they started under; new admissions
// use the new one.
func (e *Engine) SetOptions(opts Options) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	if opts.Retry.MaxRetries >= 0 {
		e.retry = opts.Retry
	}
	if opts.ExecTimeout > 0 {
		e.execTimeout = opts.ExecTimeout
	}
	if opts.Throttle > 0 && opts.Throttle != e.throttle {
		e.throttle = opts.Throttle
		e.sem = make(chan struct{}, opts.Throttle)
	}
}

func (e *Engine) retryPolicy() config.Retry {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.retry
}

func (e *Engine) opTimeout() time.Duration {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.execTimeout
}

// Enqueue queues one action per device; an empty device list broadcasts
// to every active device (fan-out happens here, not at dispatch).
// Priority runs 1..10; higher dispatches first.
func (e *Engine) Enqueue(ctx context.Context, actor rbac.Actor, deviceIDs []uint, actionType string, payload json.RawMessage, priority int, scheduledAt *time.Time) ([]uint, error) {
	if err := e.gate.Assert(rbac.PermActionWrite, actor.Role); err != nil {
		return nil, err
	}
	if actionType == "" {
		return nil, faults.New(faults.KindConfiguration, "action type is required")
	}
	if priority == 0 {
		priority = 5
	}
	if priority < 1 || priority > 10 {
		return nil, faults.Newf(faults.KindConfiguration, "priority %d outside 1..10", priority)
	}
	when := time.Now()
	if scheduledAt != nil {
		when = *scheduledAt
	}
	if len(deviceIDs) == 0 {
		all, err := e.devices.ListActive()
		if err != nil {
			return nil, faults.Wrap(faults.KindFatal, "device list failed", err)
		}
		for _, d := range all {
			deviceIDs = append(deviceIDs, d.ID)
		}
	}
	ids := make([]uint, 0, len(deviceIDs))
	targets := make([]string, 0, len(deviceIDs))
	for _, devID := range deviceIDs {
		id := devID
		a := &models.Action{
			DeviceID:    &id,
			Type:        actionType,
			Status:      models.ActionPending,
			Priority:    priority,
			Payload:     string(payload),
			CreatedBy:   actor.Name,
			ScheduledAt: when,
		}
		if err := e.actions.Create(a); err != nil {
			return ids, faults.Wrap(faults.KindFatal, "action create failed", err)
		}
		ids = append(ids, a.ID)
		targets = append(targets, strconv.FormatUint(uint64(devID), 10))
	}
	e.auditor.Write(actor, "action.enqueue", targets, "ok",
		fmt.Sprintf("type=%s priority=%d count=%d", actionType, priority, len(ids)))
	return ids, nil
}

// GetStatus returns the action row for status inspection.
func (e *Engine) GetStatus(actor rbac.Actor, actionID uint) (*models.Action, error) {
	if err := e.gate.Assert(rbac.PermActionRead, actor.Role); err != nil {
		return nil, err
	}
	a, err := e.actions.FindByID(actionID)
	if err != nil {
		return nil, faults.Wrap(faults.KindNotFound, fmt.Sprintf("action %d", actionID), err)
	}
	return a, nil
}

// Cancel moves a Pending action to Cancelled. A Running action is only
// flagged; its worker observes the flag between attempts, so this path
// is best-effort rather than a forced kill.
func (e *Engine) Cancel(ctx context.Context, actor rbac.Actor, actionID uint) error {
	if err := e.gate.Assert(rbac.PermActionWrite, actor.Role); err != nil {
		return err
	}
	ok, err := e.actions.Cancel(actionID, time.Now())
	if err != nil {
		return faults.Wrap(faults.KindFatal, "action cancel failed", err)
	}
	if ok {
		e.auditor.Write(actor, "action.cancel", []string{strconv.FormatUint(uint64(actionID), 10)}, "ok", "")
		return nil
	}
	a, err := e.actions.FindByID(actionID)
	if err != nil {
		return faults.Wrap(faults.KindNotFound, fmt.Sprintf("action %d", actionID), err)
	}
	if a.Status == models.ActionRunning {
		if err := e.actions.FlagCancel(actionID); err != nil {
			return faults.Wrap(faults.KindFatal, "cancel flag failed", err)
		}
		e.auditor.Write(actor, "action.cancel", []string{strconv.FormatUint(uint64(actionID), 10)}, "flagged", "running action flagged for cooperative cancellation")
		return nil
	}
	return faults.Newf(faults.KindConfiguration, "action %d is %s, not cancellable", actionID, a.Status)
}

// DispatchPending runs one admission pass: due Pending actions, highest
// priority first, up to the throttle limit, with per-target
// serialization for non-reentrant types. A single device's failure
// never aborts the rest of the batch.
func (e *Engine) DispatchPending(ctx context.Context) (int, error) {
	e.cfgMu.RLock()
	limit := e.throttle
	sem := e.sem
	e.cfgMu.RUnlock()

	due, err := e.actions.DuePending(time.Now(), limit)
	if err != nil {
		return 0, faults.Wrap(faults.KindFatal, "queue read failed", err)
	}
	dispatched := 0
	for i := range due {
		a := due[i]
		if a.DeviceID == nil {
			// Broadcast rows fan out at enqueue; a nil device here is a
			// row written by an older console. Fail it loudly.
			e.failWithoutDevice(&a)
			continue
		}
		devID := *a.DeviceID
		reentrant := e.registry.Reentrant(a.Type)
		if !reentrant && !e.admit(devID) {
			// Another non-reentrant action owns this device; the row
			// stays Pending and wins a later pass, preserving
			// priority-then-creation order within the target.
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			if !reentrant {
				e.leave(devID)
			}
			return dispatched, ctx.Err()
		}
		claimed, err := e.actions.Claim(a.ID, time.Now())
		if err != nil || !claimed {
			<-sem
			if !reentrant {
				e.leave(devID)
			}
			if err != nil {
				e.log.Error().Err(err).Uint("action", a.ID).Msg("claim failed")
			}
			continue
		}
		dispatched++
		e.wg.Add(1)
		go func(action models.Action, deviceID uint, serialized bool) {
			defer e.wg.Done()
			defer func() { <-sem }()
			if serialized {
				defer e.leave(deviceID)
			}
			e.execute(ctx, &action, deviceID)
		}(a, devID, !reentrant)
	}
	return dispatched, nil
}

// DrainPending runs admission passes until the due queue stops moving;
// used by the run loop after wake-ups and by tests.
func (e *Engine) DrainPending(ctx context.Context) error {
	for {
		n, err := e.DispatchPending(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		e.wg.Wait()
	}
}

// Run dispatches on an interval until the context is cancelled, then
// waits for in-flight workers to drain.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			e.log.Info().Msg("executor drained")
			return
		case <-t.C:
			if _, err := e.DispatchPending(ctx); err != nil && ctx.Err() == nil {
				if faults.KindOf(err) == faults.KindFatal {
					e.log.Error().Err(err).Msg("fatal dispatch error, stopping engine")
					return
				}
				e.log.Error().Err(err).Msg("dispatch pass failed")
			}
			e.pool.EvictExpired()
		}
	}
}

func (e *Engine) admit(deviceID uint) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	if e.inflight[deviceID] {
		return false
	}
	e.inflight[deviceID] = true
	return true
}

func (e *Engine) leave(deviceID uint) {
	e.inflightMu.Lock()
	delete(e.inflight, deviceID)
	e.inflightMu.Unlock()
}

func (e *Engine) failWithoutDevice(a *models.Action) {
	claimed, err := e.actions.Claim(a.ID, time.Now())
	if err != nil {
		e.log.Error().Err(err).Uint("action", a.ID).Msg("claim failed for targetless action")
		return
	}
	if !claimed {
		return
	}
	ok, err := e.actions.Complete(a.ID, models.ActionFailed, "",
		"no target device: broadcast actions must fan out at enqueue", time.Now())
	if err != nil {
		e.log.Error().Err(err).Uint("action", a.ID).Msg("failure write failed")
		return
	}
	if !ok {
		e.log.Error().Uint("action", a.ID).Msg("illegal transition: targetless action left Running before failure write")
	}
}
