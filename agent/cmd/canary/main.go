package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	flag "github.com/spf13/pflag"

	"github.com/webhealth/canary/agent/internal/alarm"
	"github.com/webhealth/canary/agent/internal/alarmlog"
	"github.com/webhealth/canary/agent/internal/api"
	"github.com/webhealth/canary/agent/internal/config"
	"github.com/webhealth/canary/agent/internal/cycle"
	"github.com/webhealth/canary/agent/internal/notify"
	"github.com/webhealth/canary/agent/internal/pipeline"
	"github.com/webhealth/canary/agent/internal/probe"
	"github.com/webhealth/canary/agent/internal/sink"
	"github.com/webhealth/canary/agent/internal/stats"
	"github.com/webhealth/canary/agent/internal/ws"
)

func main() {
	configPath := flag.StringP("config", "c", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single cycle, print its result as JSON and exit")
	consume := flag.String("consume", "", "consume the named alarm queue into the alarm log instead of running the canary")
	logLevel := flag.String("log-level", "info", "log level: debug | info | warn | error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid --log-level %q: %v\n", *logLevel, err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("webhealth-canary starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"namespace", cfg.Canary.Namespace,
		"targets_file", cfg.Canary.TargetsFile,
		"schedule", cfg.Canary.Schedule,
		"redis", cfg.Notify.Redis.Address != "",
		"remote_sink", cfg.Sink.Remote.Endpoint,
		"alarm_log", cfg.AlarmLog.Driver,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	st := stats.New(reg)

	// Optional Redis: durable alarm state and queue subscribers.
	var rdb *redis.Client
	if cfg.Notify.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Notify.Redis.Address,
			DB:       cfg.Notify.Redis.DB,
			Password: cfg.Notify.Redis.Password(),
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis not reachable at startup", "address", cfg.Notify.Redis.Address, "err", err)
		}
	}

	table, err := alarmlog.Open(cfg.AlarmLog)
	if err != nil {
		slog.Error("failed to open alarm log", "driver", cfg.AlarmLog.Driver, "err", err)
		os.Exit(1)
	}
	defer table.Close() //nolint:errcheck
	writer := alarmlog.NewWriter(table, cfg.AlarmLog.ReasonMaxLen, st)

	if *consume != "" {
		if rdb == nil {
			slog.Error("--consume requires notify.redis.address")
			os.Exit(1)
		}
		os.Exit(runConsumer(ctx, notify.NewQueue(rdb, *consume, st), writer))
	}

	// Notification router: alarm log, dashboard, queues and webhooks.
	router := notify.NewRouter(st)
	router.Subscribe(writer)

	var states alarm.StateStore = alarm.NewMemoryStates()
	if rdb != nil {
		states = alarm.NewRedisStates(rdb, cfg.Notify.Redis.StateKey)
		for _, q := range cfg.Notify.Queues {
			queue := notify.NewQueue(rdb, q.Name, st)
			if _, err := queue.Redrive(ctx); err != nil {
				slog.Warn("queue redrive failed", "queue", q.Name, "err", err)
			}
			router.Subscribe(queue, config.Kinds(q.Categories)...)
			slog.Info("registered queue subscriber", "queue", q.Name, "categories", q.Categories)
		}
	} else if len(cfg.Notify.Queues) > 0 {
		slog.Warn("notify.queues ignored: no redis address configured", "queues", len(cfg.Notify.Queues))
	}
	for _, wh := range cfg.Notify.Webhooks {
		router.Subscribe(notify.NewWebhook(wh), config.Kinds(wh.Categories)...)
		slog.Info("registered webhook subscriber", "type", wh.Type, "categories", wh.Categories)
	}

	eval := alarm.NewEvaluator(states, router, st)
	hub := ws.New(eval.States, 5*time.Second)
	router.Subscribe(hub)

	// Metric sink: local Prometheus gauges and/or the remote receiver.
	var stores []sink.Store
	var forgetters []pipeline.Forgetter
	if cfg.Sink.Prometheus.Enabled {
		ps := sink.NewPromStore(reg)
		stores = append(stores, ps)
		forgetters = append(forgetters, ps)
	}
	var remote *sink.RemoteStore
	if cfg.Sink.Remote.Endpoint != "" {
		remote = sink.NewRemoteStore(cfg.Sink.Remote, st)
		stores = append(stores, remote)
	}
	if len(stores) == 0 {
		slog.Warn("no metric sink enabled; measurements will only be evaluated")
	}

	holder := config.NewHolder(cfg)
	window := alarm.NewWindow(cfg.Canary.EvaluationWindow)
	runner := cycle.New(probe.New(probe.Options{
		UserAgent:          cfg.Canary.UserAgent,
		InsecureSkipVerify: cfg.Canary.InsecureSkipVerify,
	}), cfg.Canary.Concurrency, st)
	pipe := pipeline.New(holder, runner, sink.New(st, stores...), window, eval, st, forgetters...)

	if *once {
		os.Exit(runOnce(ctx, pipe, remote))
	}

	if remote != nil {
		go remote.Run(ctx)
	}
	go window.Run(ctx)
	go hub.Run(ctx)

	// Watch config file for hot-reload. Canary parameters apply from the
	// next cycle; sink, notify and alarm_log changes need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			holder.Store(updated)
			if updated.Canary.Schedule != cfg.Canary.Schedule {
				slog.Warn("canary.schedule changed; restart to apply", "schedule", updated.Canary.Schedule)
			}
			slog.Info("config hot-reloaded", "namespace", updated.Canary.Namespace, "targets_file", updated.Canary.TargetsFile)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	cl := cronLogger{}
	sched := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := sched.AddFunc(cfg.Canary.Schedule, func() { pipe.Tick(ctx) }); err != nil {
		slog.Error("invalid canary.schedule", "schedule", cfg.Canary.Schedule, "err", err)
		os.Exit(1)
	}
	sched.Start()

	httpMux := http.NewServeMux()
	httpMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	httpMux.Handle("/ws/alarms", hub)
	httpMux.Handle("/api/", api.New(pipe, eval, table, writer))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Canary.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Canary.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	// First cycle runs immediately rather than one schedule period in.
	go pipe.Tick(ctx)

	<-ctx.Done()
	slog.Info("webhealth-canary shutting down")
	<-sched.Stop().Done()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}

// runOnce executes one tick, flushes the remote sink and prints the result.
func runOnce(ctx context.Context, pipe *pipeline.Pipeline, remote *sink.RemoteStore) int {
	res := pipe.Tick(ctx)

	if remote != nil && remote.Pending() > 0 {
		flushCtx, done := context.WithTimeout(ctx, 30*time.Second)
		defer done()
		go remote.Run(flushCtx)
		for remote.Pending() > 0 && flushCtx.Err() == nil {
			time.Sleep(100 * time.Millisecond)
		}
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		slog.Error("encode cycle result", "err", err)
		return 1
	}
	fmt.Println(string(out))
	if !res.OK {
		return 1
	}
	return 0
}

// runConsumer drains queue into the alarm log until ctx is cancelled.
func runConsumer(ctx context.Context, queue *notify.Queue, writer *alarmlog.Writer) int {
	if _, err := queue.Redrive(ctx); err != nil {
		slog.Warn("queue redrive failed", "queue", queue.Name(), "err", err)
	}
	slog.Info("consuming alarm queue", "queue", queue.Name())
	if err := queue.Consume(ctx, writer.Log); err != nil {
		slog.Error("queue consumer stopped", "queue", queue.Name(), "err", err)
		return 1
	}
	return 0
}
