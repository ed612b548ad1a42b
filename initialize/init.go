package initialize

import (
	"fmt"

	"fleetward/app/db"
	"fleetward/app/models"
	"fleetward/app/repo"
	"fleetward/app/services/alerts"
	"fleetward/app/services/cache"
	"fleetward/app/services/executor"
	"fleetward/app/services/health"
	"fleetward/app/services/rbac"
	"fleetward/app/services/secret"
	"fleetward/app/services/sessionpool"
	"fleetward/config"
	"fleetward/global"
	"fleetward/transport"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// App holds the wired engine; everything is constructor-injected so
// tests can assemble the same graph against fakes.
type App struct {
	Cfg      *config.Config
	Watcher  *config.Watcher
	DB       *gorm.DB
	Cache    cache.Store
	Pool     *sessionpool.Pool
	Executor *executor.Engine
	Scorer   *health.Scorer
	Alerts   *alerts.Manager
	Gate     *rbac.Gate
	Auditor  *rbac.Auditor
	Signer   *rbac.TokenSigner
	Secrets  secret.Store

	Devices *repo.DeviceRepository
	Actions *repo.ActionRepository
}

func Build(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	global.Config = cfg

	gdb, err := db.Connect(db.Config{
		Driver: cfg.DB.Driver, Host: cfg.DB.Host, Port: cfg.DB.Port,
		User: cfg.DB.User, Password: cfg.DB.Pass, DBName: cfg.DB.Name, Path: cfg.DB.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	global.Mdb = gdb

	if err := gdb.AutoMigrate(
		&models.Device{}, &models.Action{}, &models.Alert{},
		&models.Metric{}, &models.AuditLogEntry{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// Repositories
	deviceRepo := repo.NewDeviceRepository(gdb)
	actionRepo := repo.NewActionRepository(gdb)
	alertRepo := repo.NewAlertRepository(gdb)
	metricRepo := repo.NewMetricRepository(gdb)
	auditRepo := repo.NewAuditRepository(gdb)

	// Cache: in-process by default, shared redis when configured.
	ttls := cache.TTLs{
		DeviceStatus:  cfg.CacheTTL.DeviceStatus,
		Inventory:     cfg.CacheTTL.Inventory,
		Configuration: cfg.CacheTTL.Configuration,
	}
	var store cache.Store
	memCache := cache.New(ttls)
	store = memCache
	var redisStore *cache.RedisStore
	if cfg.RedisAddr != "" {
		global.Rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		redisStore = cache.NewRedisStore(global.Rdb, ttls, global.Logger)
		store = redisStore
	}

	// Transport + sessions
	negotiator := &transport.StandardNegotiator{
		Probe:        &transport.NetProber{Timeout: cfg.Transport.ConnectTimeout},
		Allow:        transport.NewMemoryAllowList(),
		DomainJoined: func() bool { return false },
		SecurePort:   cfg.Transport.SecurePort,
		PlainPort:    cfg.Transport.PlainPort,
		DialSecure:   transport.DialSecure,
		DialPlain:    transport.DialPlain,
		Log:          global.Logger,
	}
	pool := sessionpool.New(negotiator, cfg.SessionTTL, global.Logger)

	// RBAC + audit
	gate := rbac.NewGate(rbac.BuiltinRoles())
	auditor := rbac.NewAuditor(auditRepo, cfg.AuditFallback, global.Logger)
	signer := &rbac.TokenSigner{Secret: []byte(cfg.TokenSecret), Issuer: "fleetward"}

	// Engines
	alertMgr := alerts.NewManager(alertRepo, gate, auditor, cfg.DedupWindow, global.Logger)
	scorer := health.NewScorer(deviceRepo, metricRepo, store, alertMgr, cfg.Health, global.Logger)
	secrets := secret.EnvStore{}
	exec := executor.New(actionRepo, deviceRepo, pool, secrets, alertMgr, gate, auditor,
		executor.NewRegistry(), executor.Options{
			Retry:       cfg.Retry,
			Throttle:    cfg.ThrottleLimit,
			ExecTimeout: cfg.Transport.ExecTimeout,
		}, global.Logger)

	// Hot reload: push the tunables into the running components.
	watcher := config.NewWatcher(configPath, cfg, global.Logger)
	watcher.Subscribe(func(c *config.Config) {
		global.Config = c
		pool.SetTTL(c.SessionTTL)
		alertMgr.SetWindow(c.DedupWindow)
		newTTLs := cache.TTLs{
			DeviceStatus:  c.CacheTTL.DeviceStatus,
			Inventory:     c.CacheTTL.Inventory,
			Configuration: c.CacheTTL.Configuration,
		}
		memCache.SetTTLs(newTTLs)
		if redisStore != nil {
			redisStore.SetTTLs(newTTLs)
		}
		scorer.SetConfig(c.Health)
		exec.SetOptions(executor.Options{
			Retry:       c.Retry,
			Throttle:    c.ThrottleLimit,
			ExecTimeout: c.Transport.ExecTimeout,
		})
	})

	return &App{
		Cfg:      cfg,
		Watcher:  watcher,
		DB:       gdb,
		Cache:    store,
		Pool:     pool,
		Executor: exec,
		Scorer:   scorer,
		Alerts:   alertMgr,
		Gate:     gate,
		Auditor:  auditor,
		Signer:   signer,
		Secrets:  secrets,
		Devices:  deviceRepo,
		Actions:  actionRepo,
	}, nil
}
