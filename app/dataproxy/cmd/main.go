package main

import (
	"context"
	"time"

	"github.com/lk2023060901/xdooria-dal/app/dataproxy/internal/conf"
	"github.com/lk2023060901/xdooria-dal/app/dataproxy/internal/server"
	"github.com/lk2023060901/xdooria-dal/pkg/app"
	"github.com/lk2023060901/xdooria-dal/pkg/config"
	"github.com/lk2023060901/xdooria-dal/pkg/dal"
	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/database/redis"
	"github.com/lk2023060901/xdooria-dal/pkg/logger"
	"github.com/lk2023060901/xdooria-dal/pkg/mq/kafka"
	"github.com/lk2023060901/xdooria-dal/pkg/otel"
	"github.com/lk2023060901/xdooria-dal/pkg/prometheus"
	"github.com/lk2023060901/xdooria-dal/pkg/router"
	"github.com/lk2023060901/xdooria-dal/pkg/scheduler"
	"github.com/lk2023060901/xdooria-dal/pkg/security"
	"github.com/lk2023060901/xdooria-dal/pkg/sentry"
	"github.com/lk2023060901/xdooria-dal/pkg/web"

	// 引擎适配器在 init 中注册
	_ "github.com/lk2023060901/xdooria-dal/pkg/database/mongo"
	_ "github.com/lk2023060901/xdooria-dal/pkg/database/mysql"
	_ "github.com/lk2023060901/xdooria-dal/pkg/database/postgres"
	_ "github.com/lk2023060901/xdooria-dal/pkg/database/rest"
)

func main() {
	var cfg conf.Config

	// 1. 加载并校验配置
	if err := app.LoadConfig(&cfg); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	// 2. 错误上报挂在日志钩子上，需先于日志创建
	reporter, err := sentry.New(&cfg.Sentry)
	if err != nil {
		panic(err)
	}
	l, err := logger.New(&cfg.Log, logger.WithHooks(reporter.LogHook()))
	if err != nil {
		panic(err)
	}
	logger.SetDefault(l)

	application := app.NewBaseApp(
		app.WithLogger(l),
		app.WithNamedLoggers(cfg.Loggers),
	)
	application.AppendCloser(reporter)

	// 3. 组装服务
	svc, webServer, cleanup, err := build(&cfg, l, application)
	if err != nil {
		l.Error("failed to initialize application", "error", err)
		cleanup()
		_ = reporter.Close()
		return
	}

	// 4. 启动连接池与后台任务
	ctx, cancel := context.WithTimeout(application.Context(), 30*time.Second)
	err = svc.Start(ctx)
	cancel()
	if err != nil {
		l.Error("failed to start data access service", "error", err)
		cleanup()
		_ = reporter.Close()
		return
	}

	// 5. 路由配置热更新
	watchRouting(svc.Router(), cfg.ConnectionIDs(), l)

	application.AppendServer(webServer)
	if err := application.Run(); err != nil {
		l.Error("application exited with error", "error", err)
	}
}

// build 创建全部组件，closer 按创建顺序登记，关闭时逆序执行
func build(cfg *conf.Config, l logger.Logger, application *app.BaseApp) (*dal.Service, *web.Server, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	promClient, err := prometheus.New(&cfg.Prometheus, prometheus.WithLogger(l))
	if err != nil {
		return nil, nil, cleanup, err
	}
	closers = append(closers, func() { _ = promClient.Close() })
	application.AppendCloser(promClient)

	tracing, err := otel.New(&cfg.Tracing, otel.WithLogger(l), otel.WithGlobal())
	if err != nil {
		return nil, nil, cleanup, err
	}
	closers = append(closers, func() { _ = tracing.Close() })
	application.AppendCloser(tracing)

	sched := scheduler.New(scheduler.WithLogger(l))

	r, err := router.New(cfg.Routing, router.WithLogger(l))
	if err != nil {
		return nil, nil, cleanup, err
	}
	for _, cc := range cfg.Connections {
		a, err := adapter.Open(cc, adapter.Options{Logger: l, Scheduler: sched})
		if err != nil {
			return nil, nil, cleanup, err
		}
		weight := cc.Weight
		if weight <= 0 {
			weight = 1
		}
		if err := r.Register(cc.ID, a, weight); err != nil {
			return nil, nil, cleanup, err
		}
	}
	closeRouter := len(closers)
	closers = append(closers, func() { _ = r.Close(context.Background()) })

	opts := []dal.Option{
		dal.WithLogger(l),
		dal.WithScheduler(sched),
		dal.WithMetrics(promClient),
		dal.WithTracer(tracing.Tracer("dal")),
	}

	if cfg.Redis != nil {
		rc, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, nil, cleanup, err
		}
		closers = append(closers, func() { _ = rc.Close() })
		application.AppendCloser(rc)
		opts = append(opts, dal.WithRedis(rc))
	}

	if cfg.Service.Audit.Enabled && cfg.Service.Audit.Sink == "kafka" {
		kc, err := kafka.New(cfg.Kafka, kafka.WithLogger(l), kafka.WithMiddleware(
			kafka.RecoveryMiddleware(l),
			kafka.LoggingMiddleware(l),
		))
		if err != nil {
			return nil, nil, cleanup, err
		}
		closers = append(closers, func() { _ = kc.Close() })
		application.AppendCloser(kc)
		opts = append(opts, dal.WithAuditSink(dal.NewKafkaAuditSink(kc, cfg.Service.Audit.Topic)))
	}

	svc, err := dal.New(&cfg.Service, r, opts...)
	if err != nil {
		return nil, nil, cleanup, err
	}
	// 服务关闭时负责关闭路由与适配器
	closers[closeRouter] = func() { _ = svc.Close(context.Background()) }
	application.AppendCloser(app.CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := svc.Close(ctx); err != nil {
			return err
		}
		return sched.Stop(ctx)
	}))
	sched.Start()
	closers = append(closers, func() { _ = sched.Stop(context.Background()) })

	auth, err := security.NewAuthenticator(&cfg.Auth)
	if err != nil {
		return nil, nil, cleanup, err
	}

	webServer, err := web.NewServer(&cfg.Web,
		web.WithLogger(l),
		web.WithMetrics(promClient),
		web.WithTracing(tracing),
		web.WithAuth(auth),
	)
	if err != nil {
		return nil, nil, cleanup, err
	}
	server.NewHandler(svc, l).Register(webServer.Router())

	return svc, webServer, cleanup, nil
}

// watchRouting 只有能通过校验且引用已配置连接的路由才会生效
func watchRouting(r *router.Router, ids map[string]struct{}, l logger.Logger) {
	path := app.GetConfigPath()
	w, err := config.NewWatcher[router.RoutingConfig](path, "yaml", conf.RoutingKey)
	if err != nil {
		l.Warn("routing hot reload disabled", "path", path, "error", err)
		return
	}
	w.OnError(func(err error) {
		l.Warn("failed to reload routing config", "error", err)
	})
	w.OnChange(func(next *router.RoutingConfig) {
		if err := conf.CheckRouting(next, ids); err != nil {
			l.Warn("routing change rejected", "error", err)
			return
		}
		if err := r.UpdateConfig(*next); err != nil {
			l.Warn("routing change rejected", "error", err)
		}
	})
}
