package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/richardliu001/notification-outbox/internal/config"
	"github.com/richardliu001/notification-outbox/internal/directory"
	"github.com/richardliu001/notification-outbox/internal/listeners"
	"github.com/richardliu001/notification-outbox/internal/logger"
	"github.com/richardliu001/notification-outbox/internal/metrics"
	"github.com/richardliu001/notification-outbox/internal/pipeline"
	"github.com/richardliu001/notification-outbox/internal/preference"
	"github.com/richardliu001/notification-outbox/internal/relay"
	"github.com/richardliu001/notification-outbox/internal/repo"
)

func main() {
	cfgPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	// 1. load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. postgres
	gdb, err := repo.Open(cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := repo.Migrate(gdb); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}
	repository := repo.NewRepository(gdb, log)

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewStatsCollector(repository, 5*time.Second),
	)
	m := metrics.New(reg)

	// 6. listeners and relays
	dir := directory.New(cfg.Directory.URL, cfg.Directory.Timeout)
	listenerReg := pipeline.NewRegistry()
	if err := listeners.RegisterReservation(listenerReg, dir); err != nil {
		log.Fatalf("register listeners: %v", err)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kw := relay.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kw.Close()
		if err := listenerReg.Register(pipeline.Wildcard, relay.NewKafkaListener(kw)); err != nil {
			log.Fatalf("register kafka relay: %v", err)
		}
	}
	if cfg.RabbitMQ.URL != "" {
		conn, ch, err := relay.DialAMQP(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			log.Fatalf("rabbitmq: %v", err)
		}
		defer conn.Close()
		if err := listenerReg.Register(pipeline.Wildcard, relay.NewAMQPListener(ch, cfg.RabbitMQ.Exchange)); err != nil {
			log.Fatalf("register amqp relay: %v", err)
		}
	}
	log.Infow("listeners registered", "event_types", listenerReg.EventTypes())

	// 7. pollers
	var group pipeline.Group
	ev := cfg.Pipeline.Events
	events := pipeline.NewEventDispatcher(repository, listenerReg, pipeline.EventDispatcherOptions{
		Fast:       pipeline.TierOptions{Age: ev.Fast.Age, BatchSize: ev.Fast.BatchSize},
		Slow:       pipeline.TierOptions{Age: ev.Slow.Age, BatchSize: ev.Slow.BatchSize},
		MaxRetries: ev.MaxRetries,
	}, log, m)
	if ev.Fast.On() {
		group.Add(&pipeline.Runner{Name: "events-fast", Interval: ev.Fast.Interval, Log: log,
			Task: func(ctx context.Context) { events.PollFresh(ctx) }})
	}
	if ev.Slow.On() {
		group.Add(&pipeline.Runner{Name: "events-slow", Interval: ev.Slow.Interval, Log: log,
			Task: func(ctx context.Context) { events.PollStale(ctx) }})
	}

	senders, lookups := buildSenders(cfg, rdb, dir, log)
	cp := cfg.Pipeline.Channels
	live := senders.Channels()
	for _, ch := range live {
		s, _ := senders.Get(ch)
		poller := pipeline.NewChannelPoller(ch, repository, s, lookups[ch], pipeline.ChannelPollerOptions{
			BatchSize:      cp.BatchSize,
			MaxRetries:     cp.MaxRetries,
			Workers:        cp.Workers,
			AttemptTimeout: cp.AttemptTimeout,
			Backoff:        pipeline.Backoff{Base: cp.BackoffBase, Max: cp.BackoffMax},
		}, log, m)
		group.Add(&pipeline.Runner{Name: "channel-" + string(ch), Interval: cp.Interval, Log: log,
			Task: func(ctx context.Context) { poller.PollOnce(ctx) }})
	}

	np := cfg.Pipeline.Notifications
	prefs := preference.NewResolver(repository, rdb, cfg.Redis.PreferenceTTL, log)
	notifications := pipeline.NewNotificationDispatcher(repository, prefs, pipeline.NotificationDispatcherOptions{
		BatchSize:  np.BatchSize,
		MaxRetries: np.MaxRetries,
		Channels:   live,
	}, log, m)
	group.Add(&pipeline.Runner{Name: "notifications", Interval: np.Interval, Log: log,
		Task: func(ctx context.Context) { notifications.PollOnce(ctx) }})

	rt := cfg.Pipeline.Retention
	sweeper := pipeline.NewSweeper(repository, pipeline.RetentionOptions{
		Events:   rt.Events,
		Ledger:   rt.Ledger,
		Outbox:   rt.Outbox,
		Channels: rt.Channels,
	}, log, m)
	group.Add(&pipeline.Runner{Name: "retention", Interval: rt.Interval, Log: log,
		Task: func(ctx context.Context) {
			if _, err := sweeper.SweepOnce(ctx); err != nil {
				log.Errorw("retention sweep failed", "error", err)
			}
		}})

	// 8. metrics endpoint
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.MetricsPort), Handler: metrics.Handler(reg)}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("metrics server stopped", "error", err)
		}
	}()

	// 9. run until signalled
	log.Infow("notification-poller started", "pollers", group.Len(), "channels", live)
	if err := group.Run(ctx); err != nil {
		log.Errorw("poller group stopped", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("notification-poller stopped")
}
