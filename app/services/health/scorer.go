package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fleetward/app/models"
	"fleetward/app/repo"
	"fleetward/app/services/alerts"
	"fleetward/app/services/cache"
	"fleetward/config"
	"fleetward/faults"

	"github.com/rs/zerolog"
)

type Bucket string

const (
	BucketHealthy  Bucket = "Healthy"
	BucketWarning  Bucket = "Warning"
	BucketCritical Bucket = "Critical"
	BucketOffline  Bucket = "Offline"
)

// Report is one scoring run over one device. Total always equals the
// sum of the four category values; Scorer checks that invariant instead
// of recomputing a separate figure.
type Report struct {
	DeviceID     uint
	Availability int
	Performance  int
	Security     int
	Compliance   int
	Total        int
	Bucket       Bucket
	Unreachable  bool
	Notes        []string
}

// Summary is the fleet roll-up, counted from per-device buckets so the
// board and the per-device views can never disagree.
type Summary struct {
	Healthy  int
	Warning  int
	Critical int
	Offline  int
	Scored   int
}

type Scorer struct {
	devices  *repo.DeviceRepository
	metrics  *repo.MetricRepository
	store    cache.Store
	alertMgr *alerts.Manager
	log      zerolog.Logger

	mu  sync.RWMutex
	cfg config.Health
	now func() time.Time
}

func NewScorer(devices *repo.DeviceRepository, metrics *repo.MetricRepository, store cache.Store, alertMgr *alerts.Manager, cfg config.Health, log zerolog.Logger) *Scorer {
	return &Scorer{
		devices:  devices,
		metrics:  metrics,
		store:    store,
		alertMgr: alertMgr,
		cfg:      cfg,
		log:      log.With().Str("component", "health").Logger(),
		now:      time.Now,
	}
}

// SetConfig applies hot-reloaded weights and thresholds.
func (s *Scorer) SetConfig(cfg config.Health) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Scorer) config() config.Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// latestMetric reads through the cache layer; a miss falls through to
// the store and refills the cache.
func (s *Scorer) latestMetric(deviceID uint) (*models.Metric, error) {
	key := fmt.Sprintf("metric:%d", deviceID)
	if raw, ok := s.store.Get(key, cache.TypeDeviceStatus); ok {
		var m models.Metric
		if err := json.Unmarshal(raw, &m); err == nil {
			return &m, nil
		}
	}
	m, err := s.metrics.Latest(deviceID)
	if err != nil {
		return nil, err
	}
	if m != nil {
		if raw, err := json.Marshal(m); err == nil {
			s.store.Set(key, cache.TypeDeviceStatus, raw)
		}
	}
	return m, nil
}

// Score runs the four category assessments independently and derives
// the bucket. Scoring is read-only against dispatch state and safe to
// run concurrently with it.
func (s *Scorer) Score(ctx context.Context, device *models.Device) (*Report, error) {
	cfg := s.config()
	r := &Report{DeviceID: device.ID}

	metric, err := s.latestMetric(device.ID)
	if err != nil {
		return nil, faults.Wrap(faults.KindFatal, "metric read failed", err)
	}

	r.Availability, r.Unreachable = s.scoreAvailability(device, cfg, r)
	r.Performance = s.scorePerformance(metric, cfg, r)
	r.Security = s.scoreSecurity(metric, cfg, r)
	r.Compliance = s.scoreCompliance(metric, cfg, r)
	r.Total = r.Availability + r.Performance + r.Security + r.Compliance

	// Checked invariant: category bounds must still sum to 100 and no
	// category may exceed its bound. A breach here means corrupted
	// configuration or a scoring bug, never something to paper over.
	if err := checkBounds(r, cfg); err != nil {
		return nil, err
	}

	r.Bucket = BucketFor(r.Total, r.Unreachable)
	return r, nil
}

// BucketFor maps a total onto the coarse classification; an unreachable
// availability check overrides everything else.
func BucketFor(total int, unreachable bool) Bucket {
	switch {
	case unreachable:
		return BucketOffline
	case total >= 90:
		return BucketHealthy
	case total >= 70:
		return BucketWarning
	default:
		return BucketCritical
	}
}

func checkBounds(r *Report, cfg config.Health) error {
	sum := cfg.AvailabilityWeight + cfg.PerformanceWeight + cfg.SecurityWeight + cfg.ComplianceWeight
	if sum != 100 {
		return faults.Newf(faults.KindFatal, "health weights sum to %d, not 100", sum)
	}
	if r.Availability > cfg.AvailabilityWeight || r.Performance > cfg.PerformanceWeight ||
		r.Security > cfg.SecurityWeight || r.Compliance > cfg.ComplianceWeight ||
		r.Availability < 0 || r.Performance < 0 || r.Security < 0 || r.Compliance < 0 {
		return faults.Newf(faults.KindFatal, "category score out of bounds: %d/%d/%d/%d",
			r.Availability, r.Performance, r.Security, r.Compliance)
	}
	if r.Total != r.Availability+r.Performance+r.Security+r.Compliance {
		return faults.New(faults.KindFatal, "total does not equal the category sum")
	}
	return nil
}

func (s *Scorer) scoreAvailability(device *models.Device, cfg config.Health, r *Report) (int, bool) {
	w := cfg.AvailabilityWeight
	if device.LastSeen == nil {
		r.Notes = append(r.Notes, "availability: device never seen, treated as unreachable")
		return 0, true
	}
	age := s.now().Sub(*device.LastSeen)
	switch {
	case age < cfg.StaleAfter:
		return w, false
	case age < 2*cfg.StaleAfter:
		r.Notes = append(r.Notes, fmt.Sprintf("availability: last seen %s ago", age.Round(time.Second)))
		return w / 2, false
	default:
		r.Notes = append(r.Notes, fmt.Sprintf("availability: unreachable, last seen %s ago", age.Round(time.Second)))
		return 0, true
	}
}

func (s *Scorer) scorePerformance(metric *models.Metric, cfg config.Health, r *Report) int {
	w := cfg.PerformanceWeight
	if metric == nil {
		// Unassessable categories take the neutral maximum, never zero
		// and never an invented midpoint.
		r.Notes = append(r.Notes, "performance: no metrics reported, scored neutral")
		return w
	}
	score := w
	third := w / 3
	if metric.CPUPercent >= cfg.CPUWarnPercent {
		score -= third
		r.Notes = append(r.Notes, fmt.Sprintf("performance: cpu %.0f%% over threshold %.0f%%", metric.CPUPercent, cfg.CPUWarnPercent))
	}
	if metric.MemoryPercent >= cfg.MemoryWarnPercent {
		score -= third
		r.Notes = append(r.Notes, fmt.Sprintf("performance: memory %.0f%% over threshold %.0f%%", metric.MemoryPercent, cfg.MemoryWarnPercent))
	}
	if metric.DiskPercent >= cfg.DiskWarnPercent {
		score -= third
		r.Notes = append(r.Notes, fmt.Sprintf("performance: disk %.0f%% over threshold %.0f%%", metric.DiskPercent, cfg.DiskWarnPercent))
	}
	if score < 0 {
		score = 0
	}
	return score
}

func (s *Scorer) scoreSecurity(metric *models.Metric, cfg config.Health, r *Report) int {
	w := cfg.SecurityWeight
	if metric == nil {
		r.Notes = append(r.Notes, "security: no metrics reported, scored neutral")
		return w
	}
	score := w
	third := w / 3
	if !metric.ProtectionOK {
		score -= third
		r.Notes = append(r.Notes, "security: endpoint protection not healthy")
	}
	if !metric.FirewallOK {
		score -= third
		r.Notes = append(r.Notes, "security: firewall disabled")
	}
	if metric.PatchAgeDays > cfg.MaxPatchAgeDays {
		score -= third
		r.Notes = append(r.Notes, fmt.Sprintf("security: patches %d days old, limit %d", metric.PatchAgeDays, cfg.MaxPatchAgeDays))
	}
	if score < 0 {
		score = 0
	}
	return score
}

func (s *Scorer) scoreCompliance(metric *models.Metric, cfg config.Health, r *Report) int {
	w := cfg.ComplianceWeight
	if metric == nil {
		r.Notes = append(r.Notes, "compliance: no metrics reported, scored neutral")
		return w
	}
	if metric.PolicyDrift <= 0 {
		return w
	}
	penalty := metric.PolicyDrift * (w / 5)
	r.Notes = append(r.Notes, fmt.Sprintf("compliance: %d policy deviations", metric.PolicyDrift))
	if penalty >= w {
		return 0
	}
	return w - penalty
}

// Apply pushes the report into device state and the alert lifecycle.
// Maintenance and decommissioned devices keep their status.
func (s *Scorer) Apply(ctx context.Context, device *models.Device, r *Report) error {
	status := statusFor(r.Bucket)
	if device.Status != models.DeviceMaintenance && device.Status != models.DeviceDecommissioned {
		if device.Status != status {
			if err := s.devices.UpdateStatus(device.ID, status); err != nil {
				return faults.Wrap(faults.KindFatal, "device status update failed", err)
			}
			device.Status = status
		}
	}

	switch r.Bucket {
	case BucketOffline:
		_, err := s.alertMgr.Raise(ctx, device.ID, alerts.TypeDeviceOffline, models.SeverityHigh,
			fmt.Sprintf("%s is unreachable", device.Hostname), joinNotes(r))
		return err
	case BucketCritical:
		_, err := s.alertMgr.Raise(ctx, device.ID, alerts.TypeHealthDegraded, models.SeverityHigh,
			fmt.Sprintf("%s health critical (%d/100)", device.Hostname, r.Total), joinNotes(r))
		return err
	case BucketWarning:
		_, err := s.alertMgr.Raise(ctx, device.ID, alerts.TypeHealthDegraded, models.SeverityMedium,
			fmt.Sprintf("%s health degraded (%d/100)", device.Hostname, r.Total), joinNotes(r))
		return err
	default:
		// Recovered: close out what we previously raised.
		if err := s.alertMgr.ResolveMatching(ctx, device.ID, alerts.TypeHealthDegraded); err != nil {
			return err
		}
		return s.alertMgr.ResolveMatching(ctx, device.ID, alerts.TypeDeviceOffline)
	}
}

// ScoreFleet scores every active device and rolls up the summary.
// A single device failing to score never aborts the rest.
func (s *Scorer) ScoreFleet(ctx context.Context) (*Summary, error) {
	devices, err := s.devices.ListActive()
	if err != nil {
		return nil, faults.Wrap(faults.KindFatal, "device list failed", err)
	}
	sum := &Summary{}
	for i := range devices {
		d := &devices[i]
		r, err := s.Score(ctx, d)
		if err != nil {
			if faults.KindOf(err) == faults.KindFatal {
				return nil, err
			}
			s.log.Error().Err(err).Uint("device", d.ID).Msg("scoring failed")
			continue
		}
		if err := s.Apply(ctx, d, r); err != nil {
			s.log.Error().Err(err).Uint("device", d.ID).Msg("applying score failed")
			continue
		}
		sum.Add(r.Bucket)
	}
	return sum, nil
}

// Add counts one scored device into the roll-up.
func (s *Summary) Add(b Bucket) {
	s.Scored++
	switch b {
	case BucketHealthy:
		s.Healthy++
	case BucketWarning:
		s.Warning++
	case BucketCritical:
		s.Critical++
	case BucketOffline:
		s.Offline++
	}
}

func statusFor(b Bucket) models.DeviceStatus {
	switch b {
	case BucketHealthy:
		return models.DeviceOnline
	case BucketWarning:
		return models.DeviceWarning
	case BucketCritical:
		return models.DeviceCritical
	case BucketOffline:
		return models.DeviceOffline
	}
	return models.DeviceUnknown
}

func joinNotes(r *Report) string {
	out := ""
	for i, n := range r.Notes {
		if i > 0 {
			out += "; "
		}
		out += n
	}
	return out
}
