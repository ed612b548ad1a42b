package health

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"fleetward/app/models"
	"fleetward/app/repo"
	"fleetward/app/services/alerts"
	"fleetward/app/services/cache"
	"fleetward/app/services/rbac"
	"fleetward/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	scorer  *Scorer
	devices *repo.DeviceRepository
	metrics *repo.MetricRepository
	alerts  *repo.AlertRepository
	db      *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, gdb.AutoMigrate(
		&models.Device{}, &models.Alert{}, &models.Metric{}, &models.AuditLogEntry{},
	))

	deviceRepo := repo.NewDeviceRepository(gdb)
	metricRepo := repo.NewMetricRepository(gdb)
	alertRepo := repo.NewAlertRepository(gdb)
	auditor := rbac.NewAuditor(repo.NewAuditRepository(gdb), filepath.Join(t.TempDir(), "audit.jsonl"), zerolog.Nop())
	alertMgr := alerts.NewManager(alertRepo, rbac.NewGate(nil), auditor, time.Hour, zerolog.Nop())
	scorer := NewScorer(deviceRepo, metricRepo, cache.New(cache.DefaultTTLs()), alertMgr,
		config.Default().Health, zerolog.Nop())
	return &fixture{scorer: scorer, devices: deviceRepo, metrics: metricRepo, alerts: alertRepo, db: gdb}
}

func (f *fixture) seedDevice(t *testing.T, hostname string, lastSeen *time.Time) *models.Device {
	t.Helper()
	d := &models.Device{UUID: hostname, Hostname: hostname, Status: models.DeviceUnknown, LastSeen: lastSeen}
	require.NoError(t, f.db.Create(d).Error)
	return d
}

func recent() *time.Time {
	ts := time.Now().Add(-time.Minute)
	return &ts
}

func TestTotalEqualsCategorySum(t *testing.T) {
	f := newFixture(t)
	dev := f.seedDevice(t, "ws-01", recent())
	require.NoError(t, f.metrics.Create(&models.Metric{
		DeviceID: dev.ID, CPUPercent: 95, MemoryPercent: 50, DiskPercent: 90,
		ProtectionOK: true, FirewallOK: false, PatchAgeDays: 45, PolicyDrift: 2,
		CollectedAt: time.Now(),
	}))

	r, err := f.scorer.Score(context.Background(), dev)
	require.NoError(t, err)
	assert.Equal(t, r.Availability+r.Performance+r.Security+r.Compliance, r.Total)
	assert.NotEmpty(t, r.Notes)
}

func TestHealthyDeviceScoresFull(t *testing.T) {
	f := newFixture(t)
	dev := f.seedDevice(t, "ws-02", recent())
	require.NoError(t, f.metrics.Create(&models.Metric{
		DeviceID: dev.ID, CPUPercent: 10, MemoryPercent: 20, DiskPercent: 30,
		ProtectionOK: true, FirewallOK: true, PatchAgeDays: 3, PolicyDrift: 0,
		CollectedAt: time.Now(),
	}))

	r, err := f.scorer.Score(context.Background(), dev)
	require.NoError(t, err)
	assert.Equal(t, 100, r.Total)
	assert.Equal(t, BucketHealthy, r.Bucket)
}

func TestUnassessableCategoriesScoreNeutralWithReason(t *testing.T) {
	f := newFixture(t)
	// No metrics at all: performance, security and compliance cannot be
	// assessed and must take their maximum, never zero.
	dev := f.seedDevice(t, "ws-03", recent())

	r, err := f.scorer.Score(context.Background(), dev)
	require.NoError(t, err)
	assert.Equal(t, 25, r.Performance)
	assert.Equal(t, 25, r.Security)
	assert.Equal(t, 25, r.Compliance)
	assert.Equal(t, 100, r.Total)
	assert.Len(t, r.Notes, 3, "every neutral category records its reason")
}

func TestOfflineOverridesBucket(t *testing.T) {
	f := newFixture(t)
	stale := time.Now().Add(-48 * time.Hour)
	dev := f.seedDevice(t, "ws-04", &stale)

	r, err := f.scorer.Score(context.Background(), dev)
	require.NoError(t, err)
	assert.True(t, r.Unreachable)
	assert.Equal(t, BucketOffline, r.Bucket)
	assert.Zero(t, r.Availability)
}

func TestNeverSeenDeviceIsOffline(t *testing.T) {
	f := newFixture(t)
	dev := f.seedDevice(t, "ws-05", nil)

	r, err := f.scorer.Score(context.Background(), dev)
	require.NoError(t, err)
	assert.Equal(t, BucketOffline, r.Bucket)
}

func TestBucketBoundaries(t *testing.T) {
	assert.Equal(t, BucketHealthy, BucketFor(100, false))
	assert.Equal(t, BucketHealthy, BucketFor(90, false))
	assert.Equal(t, BucketWarning, BucketFor(89, false))
	assert.Equal(t, BucketWarning, BucketFor(70, false))
	assert.Equal(t, BucketCritical, BucketFor(69, false))
	assert.Equal(t, BucketCritical, BucketFor(0, false))
	assert.Equal(t, BucketOffline, BucketFor(100, true))
}

// A device scoring 25/4/22/20 totals 71 and lands in Warning; a fleet
// summary over just that device counts Warning=1, Healthy=0.
func TestWarningScenarioRollsUp(t *testing.T) {
	r := &Report{Availability: 25, Performance: 4, Security: 22, Compliance: 20}
	r.Total = r.Availability + r.Performance + r.Security + r.Compliance
	require.Equal(t, 71, r.Total)
	r.Bucket = BucketFor(r.Total, false)
	assert.Equal(t, BucketWarning, r.Bucket)

	sum := &Summary{}
	sum.Add(r.Bucket)
	assert.Equal(t, 1, sum.Warning)
	assert.Equal(t, 0, sum.Healthy)
	assert.Equal(t, 1, sum.Scored)
}

func TestWeightBoundsAreChecked(t *testing.T) {
	f := newFixture(t)
	dev := f.seedDevice(t, "ws-06", recent())

	broken := config.Default().Health
	broken.ComplianceWeight = 40 // sums to 115
	f.scorer.SetConfig(broken)

	_, err := f.scorer.Score(context.Background(), dev)
	require.Error(t, err)
}

func TestApplyUpdatesStatusAndAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dev := f.seedDevice(t, "ws-07", recent())
	// Degrade everything measurable.
	require.NoError(t, f.metrics.Create(&models.Metric{
		DeviceID: dev.ID, CPUPercent: 99, MemoryPercent: 99, DiskPercent: 99,
		ProtectionOK: false, FirewallOK: false, PatchAgeDays: 400, PolicyDrift: 5,
		CollectedAt: time.Now(),
	}))

	r, err := f.scorer.Score(ctx, dev)
	require.NoError(t, err)
	require.Equal(t, BucketCritical, r.Bucket)
	require.NoError(t, f.scorer.Apply(ctx, dev, r))

	got, err := f.devices.FindByID(dev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeviceCritical, got.Status)

	open, err := f.alerts.ListUnresolved()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, alerts.TypeHealthDegraded, open[0].Type)

	// Recovery: fresh clean metrics auto-resolve the incident.
	f.scorer.store.Invalidate()
	require.NoError(t, f.metrics.Create(&models.Metric{
		DeviceID: dev.ID, CPUPercent: 5, MemoryPercent: 10, DiskPercent: 20,
		ProtectionOK: true, FirewallOK: true, PatchAgeDays: 1, PolicyDrift: 0,
		CollectedAt: time.Now().Add(time.Second),
	}))
	r, err = f.scorer.Score(ctx, dev)
	require.NoError(t, err)
	require.Equal(t, BucketHealthy, r.Bucket)
	require.NoError(t, f.scorer.Apply(ctx, dev, r))

	got, err = f.devices.FindByID(dev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeviceOnline, got.Status)

	open, err = f.alerts.ListUnresolved()
	require.NoError(t, err)
	assert.Empty(t, open)
	resolved := &models.Alert{}
	require.NoError(t, f.db.Where("device_id = ?", dev.ID).First(resolved).Error)
	assert.True(t, resolved.AutoResolved)
}

func TestMaintenanceDeviceKeepsStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dev := f.seedDevice(t, "ws-08", nil)
	require.NoError(t, f.devices.UpdateStatus(dev.ID, models.DeviceMaintenance))
	dev.Status = models.DeviceMaintenance

	r, err := f.scorer.Score(ctx, dev)
	require.NoError(t, err)
	require.Equal(t, BucketOffline, r.Bucket)
	require.NoError(t, f.scorer.Apply(ctx, dev, r))

	got, err := f.devices.FindByID(dev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeviceMaintenance, got.Status)
}

func TestScoreFleetSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	healthy := f.seedDevice(t, "ws-09", recent())
	require.NoError(t, f.metrics.Create(&models.Metric{
		DeviceID: healthy.ID, CPUPercent: 10, MemoryPercent: 10, DiskPercent: 10,
		ProtectionOK: true, FirewallOK: true, PatchAgeDays: 1,
		CollectedAt: time.Now(),
	}))
	stale := time.Now().Add(-48 * time.Hour)
	f.seedDevice(t, "ws-10", &stale)

	sum, err := f.scorer.ScoreFleet(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Scored)
	assert.Equal(t, 1, sum.Healthy)
	assert.Equal(t, 1, sum.Offline)
}
