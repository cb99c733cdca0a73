package main // Entry point package

import (
    "context"
    "errors"
    "net/http"
    "os"
    "os/signal"
    "sync"
    "syscall"
    "time"

    "github.com/labstack/echo/v4"
    echomw "github.com/labstack/echo/v4/middleware"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/table-allocation/internal/cache"
    "github.com/iliyamo/table-allocation/internal/capacity"
    "github.com/iliyamo/table-allocation/internal/config"
    "github.com/iliyamo/table-allocation/internal/database"
    "github.com/iliyamo/table-allocation/internal/handler"
    "github.com/iliyamo/table-allocation/internal/jobs"
    "github.com/iliyamo/table-allocation/internal/middleware"
    "github.com/iliyamo/table-allocation/internal/queue"
    "github.com/iliyamo/table-allocation/internal/repository"
    "github.com/iliyamo/table-allocation/internal/router"
    queue_publisher "github.com/iliyamo/table-allocation/internal/service"
    "github.com/iliyamo/table-allocation/internal/telemetry"
)

func main() {
    cfg := config.Load()
    log := logrus.NewEntry(cfg.NewLogger()).WithField("service", "table-allocation")

    policy, err := config.LoadPolicy(cfg.PolicyFile)
    if err != nil {
        log.WithError(err).Fatal("load venue policy")
    }

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    checks := map[string]handler.Check{}
    var store capacity.Store
    if cfg.Store == "memory" {
        log.Warn("using in-memory store; state is lost on restart")
        store = repository.NewMemoryStore()
    } else {
        db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
        if err != nil {
            log.WithError(err).Fatal("open database")
        }
        defer db.Close()
        if err := database.Migrate(ctx, db); err != nil {
            log.WithError(err).Fatal("migrate schema")
        }
        store = repository.NewMySQLStore(db)
        checks["mysql"] = db.PingContext
    }

    rdb := config.NewRedisClient(log)
    if rdb != nil {
        defer rdb.Close()
        checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
    }

    reg := prometheus.NewRegistry()
    reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    prom, err := telemetry.NewPrometheusEmitter(reg)
    if err != nil {
        log.WithError(err).Fatal("register metrics")
    }
    sinks := []telemetry.Emitter{telemetry.LogEmitter{Log: log.WithField("component", "events")}, prom}

    var (
        pub         *queue_publisher.Publisher
        amqpEmitter *queue_publisher.AMQPEmitter
    )
    if cfg.AMQPURL != "" {
        pub = queue_publisher.NewPublisher(cfg.AMQPURL, log.WithField("component", "rabbitmq"))
        amqpEmitter = queue_publisher.NewAMQPEmitter(pub, cfg.EventBuffer)
        sinks = append(sinks, amqpEmitter)
    }
    events := telemetry.NewMulti(log, sinks...)

    allocOpts := []capacity.Option{
        capacity.WithEmitter(events),
        capacity.WithLogger(log.WithField("component", "allocator")),
    }
    if rdb != nil {
        allocOpts = append(allocOpts, capacity.WithCache(cache.NewRedisCache(rdb, "alloc")))
    }
    alloc := capacity.New(store, config.LoadAllocatorConfig(policy), allocOpts...)

    jobLog := log.WithField("component", "auto-assign")
    assigner := jobs.NewAutoAssigner(alloc, config.LoadAutoAssignConfig(), jobs.WithEmitter(events), jobs.WithLogger(jobLog))
    dispatcher := jobs.NewDispatcher(assigner, cfg.Workers, cfg.QueueSize, cfg.JobTimeout, jobLog)

    var submitter handler.AutoAssignSubmitter = dispatcher
    if pub != nil {
        submitter = &queue_publisher.AutoAssignRouter{Pub: pub, Local: dispatcher}
    }

    var wg sync.WaitGroup
    background := func(name string, fn func() error) {
        wg.Add(1)
        go func() {
            defer wg.Done()
            if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
                log.WithError(err).WithField("worker", name).Error("background worker stopped")
            }
        }()
    }
    if cfg.AMQPURL != "" && cfg.ConsumeEvents {
        background("event-consumer", func() error {
            return queue.StartEventConsumer(ctx, log.WithField("component", "event-consumer"))
        })
    }
    if cfg.AMQPURL != "" && cfg.ConsumeRequests {
        background("auto-assign-consumer", func() error {
            return queue.StartAutoAssignConsumer(ctx, func(req queue.AutoAssignRequest) bool {
                return dispatcher.Submit(req.BookingID, queue_publisher.OptionsFromRequest(req))
            }, log.WithField("component", "auto-assign-consumer"))
        })
    }
    background("hold-sweeper", func() error {
        sweepHolds(ctx, alloc, cfg.SweepInterval, log.WithField("component", "hold-sweeper"))
        return nil
    })

    e := echo.New()
    e.HideBanner = true
    e.HidePort = true
    e.Use(echomw.Recover())
    e.Use(echomw.RequestID())
    e.Use(requestLogger(log.WithField("component", "http")))
    e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

    ops := handler.NewOpsHandler(alloc, submitter, log.WithField("component", "ops"))
    limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log.WithField("component", "ratelimit"))
    router.RegisterRoutes(e, handler.Ready(checks))
    router.RegisterOps(e, ops, cfg.JWTSecret, limiter)

    addr := ":" + cfg.Port
    go func() {
        log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "store": cfg.Store}).Info("listening")
        if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.WithError(err).Error("http server stopped")
            stop()
        }
    }()

    <-ctx.Done()
    log.Info("shutting down")
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()
    if err := e.Shutdown(shutdownCtx); err != nil {
        log.WithError(err).Warn("http shutdown")
    }
    dispatcher.Close()
    wg.Wait()
    if amqpEmitter != nil {
        amqpEmitter.Close()
    }
    if pub != nil {
        _ = pub.Close()
    }
}

// sweepHolds deletes expired holds on a ticker until ctx is done.
func sweepHolds(ctx context.Context, alloc *capacity.Allocator, every time.Duration, log *logrus.Entry) {
    if every <= 0 {
        return
    }
    t := time.NewTicker(every)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            ids, err := alloc.SweepExpiredHolds(ctx)
            if err != nil {
                log.WithError(err).Warn("sweep failed")
                continue
            }
            if len(ids) > 0 {
                log.WithField("deleted", len(ids)).Debug("expired holds swept")
            }
        }
    }
}

func requestLogger(log *logrus.Entry) echo.MiddlewareFunc {
    return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
        LogURI:       true,
        LogStatus:    true,
        LogMethod:    true,
        LogLatency:   true,
        LogRequestID: true,
        LogError:     true,
        LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
            entry := log.WithFields(logrus.Fields{
                "method":     v.Method,
                "uri":        v.URI,
                "status":     v.Status,
                "latency_ms": v.Latency.Milliseconds(),
                "request_id": v.RequestID,
            })
            if v.Error != nil {
                entry.WithError(v.Error).Warn("request")
                return nil
            }
            entry.Info("request")
            return nil
        },
    })
}
