package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-optimizer/internal/analysis"
	"github.com/xela07ax/spaceai-optimizer/internal/audit"
	"github.com/xela07ax/spaceai-optimizer/internal/domain"
	"github.com/xela07ax/spaceai-optimizer/internal/engine"
	"github.com/xela07ax/spaceai-optimizer/internal/events"
	"github.com/xela07ax/spaceai-optimizer/internal/history"
	"github.com/xela07ax/spaceai-optimizer/internal/infra"
	"github.com/xela07ax/spaceai-optimizer/internal/oversight"
	"github.com/xela07ax/spaceai-optimizer/internal/repository/postgres"
	"github.com/xela07ax/spaceai-optimizer/internal/risk"
	"github.com/xela07ax/spaceai-optimizer/internal/server"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	pingers := map[string]server.Pinger{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}

	// 2. Шина событий: внешние публикаторы + журнал аудита
	var publishers []events.Publisher
	if cfg.Events.RedisPublish {
		publishers = append(publishers, events.NewRedisPublisher(rdb))
	}
	if len(cfg.Events.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		defer kp.Close()
		publishers = append(publishers, kp)
	}
	bus := events.NewBus(logger, publishers...)

	var journal *audit.Journal
	if cfg.Database.URL != "" {
		repo, err := postgres.NewAuditRepo(cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer repo.Close()

		// Проверяем соединение с таймаутом
		ctx, cancelPing := context.WithTimeout(appCtx, 5*time.Second)
		if err := repo.Migrate(ctx); err != nil {
			logger.Fatal("database unreachable", zap.Error(err))
		}
		cancelPing()
		pingers["postgres"] = repo.Ping

		// Теперь история полетит в базу пачками
		journal = audit.NewJournal(repo, audit.Config{
			BufferSize:    cfg.Database.AuditBufferSize,
			BatchSize:     cfg.Database.AuditBatchSize,
			FlushInterval: cfg.Database.AuditFlushInterval,
		}, metrics.AuditBufferFill, logger)
		journal.Start()
		bus.Subscribe(journal.Observe)
	} else {
		logger.Warn("database.url is empty, audit export disabled")
	}

	// 3. Ядро: история, анализаторы, пороги, HITL
	store := history.NewStore(cfg.Analysis.HistoryCapacity)
	thresholds := risk.NewThresholdEngine(cfg.Thresholds.Initial.AlertThresholds(), risk.ThresholdConfig{
		ConfidenceFloor:          cfg.Thresholds.ConfidenceFloor,
		Sensitivity:              cfg.Thresholds.Sensitivity,
		MaxChangePercent:         cfg.Thresholds.MaxChangePercent,
		ApprovalThresholdPercent: cfg.Thresholds.ApprovalThresholdPercent,
		MinChangePercent:         cfg.Thresholds.MinChangePercent,
		AutoApplyInterval:        cfg.Thresholds.AutoApplyInterval,
		HistoryLimit:             cfg.Thresholds.HistoryLimit,
	}, bus, logger)

	// Уведомления операторам: Redis → (лимитер, CB, ретраи)
	notifier := engine.NewReliableNotifier(events.NewRedisNotifier(rdb), engine.ReliabilityConfig{
		RatePerSecond: cfg.Oversight.NotifyRate,
		Attempts:      cfg.Oversight.NotifyAttempts,
	})

	ttl := make(map[domain.Priority]time.Duration, len(cfg.Oversight.TTL))
	for p, d := range cfg.Oversight.TTL {
		ttl[domain.Priority(p)] = d
	}
	workflow := oversight.NewWorkflow(oversight.Config{
		TTL:                 ttl,
		EscalationExtension: cfg.Oversight.EscalationExtension,
		HistoryLimit:        cfg.Oversight.HistoryLimit,
	}, notifier, engine.NewHistoryState(store, thresholds), bus, logger)
	defer workflow.Close()

	for _, uc := range cfg.Oversight.Users {
		u, err := uc.OversightUser()
		if err != nil {
			logger.Fatal("invalid oversight user", zap.Error(err))
		}
		workflow.AddUser(u)
	}
	if len(cfg.Oversight.Users) == 0 {
		logger.Warn("no oversight users configured, risky changes will expire unapproved")
	}

	optimizer := engine.NewOptimizer(engine.OptimizerConfig{
		AnalysisWindow:             cfg.Analysis.Window,
		MaxConcurrentOptimizations: cfg.Optimizer.MaxConcurrentOptimizations,
		AutoApply:                  cfg.Optimizer.AutoApply,
		Guard: engine.GuardConfig{
			MinInterval:      cfg.Guard.MinInterval,
			FailureThreshold: cfg.Guard.FailureThreshold,
			CooldownPeriod:   cfg.Guard.CooldownPeriod,
			Timeout:          cfg.Guard.Timeout,
		},
	}, store,
		analysis.NewTrendAnalyzer(analysis.TrendConfig{
			MinDataPoints:       cfg.Analysis.MinDataPoints,
			ConfidenceThreshold: cfg.Analysis.ConfidenceThreshold,
		}, logger),
		analysis.NewPredictor(cfg.Analysis.ConfidenceThreshold, cfg.Analysis.MinDataPoints),
		thresholds, workflow, bus, metrics, logger)

	// Рубильник оператора: заморозка автоприменения
	freeze := engine.NewFreezeSwitch(rdb, logger)
	if err := freeze.Init(appCtx); err != nil {
		logger.Warn("failed to load freeze state, starting unfrozen", zap.Error(err))
	}
	go freeze.Listen(appCtx)
	optimizer.UseFreeze(freeze)

	// 4. Вход срезов из Redis
	ingestor := engine.NewSnapshotIngestor(rdb, optimizer, engine.IngestConfig{
		BacklogSize: cfg.Analysis.BacklogSize,
	}, logger)
	go ingestor.Run(appCtx)

	// 5. Периодические задачи
	scheduler := engine.NewScheduler(logger)
	jobs := []struct {
		name     string
		interval time.Duration
		job      engine.Job
	}{
		{"analysis_cycle", cfg.Scheduler.AnalysisInterval, optimizer.RunCycle},
		{"expire_decisions", cfg.Scheduler.SweepInterval, func(ctx context.Context) error {
			if n := workflow.SweepExpired(ctx, time.Now()); n > 0 {
				logger.Info("expired decision requests swept", zap.Int("count", n))
			}
			return nil
		}},
		{"escalate_decisions", cfg.Scheduler.EscalationInterval, func(ctx context.Context) error {
			workflow.EscalateStale(ctx, cfg.Oversight.EscalateBefore, time.Now())
			return nil
		}},
	}
	for _, j := range jobs {
		if err := scheduler.Every(j.name, j.interval, j.job); err != nil {
			logger.Fatal("failed to schedule job", zap.Error(err))
		}
	}
	scheduler.Start()

	// 6. Служебный HTTP
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.NewOpsServer(optimizer, pingers, reg, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("ops server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop // Ждем сигнал
	logger.Info("optimizer stopping...")

	// Даем 10 секунд на завершение задач и запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()
	scheduler.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown failed", zap.Error(err))
	}
	if journal != nil {
		journal.Stop() // дописываем остаток буфера
	}
	logger.Info("optimizer exited properly")
}
