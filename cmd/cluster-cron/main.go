package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/TimeWtr/cluster_cron"
	"github.com/TimeWtr/cluster_cron/metrics"
	"github.com/TimeWtr/cluster_cron/natskv"
	"github.com/TimeWtr/cluster_cron/repository"
	"github.com/TimeWtr/cluster_cron/repository/dao"
	"github.com/TimeWtr/cluster_cron/supervisor"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type flags struct {
	config      string
	node        string
	backend     string
	peers       string
	dsn         string
	natsURL     string
	ttl         time.Duration
	metricsAddr string
	limiter     int64
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "./jobs.yaml", "path to job list yaml")
	flag.StringVar(&f.node, "node", "", "node id, random when empty")
	flag.StringVar(&f.backend, "membership", "static", "membership backend: static, sqlite or nats")
	flag.StringVar(&f.peers, "peers", "", "comma separated node ids for the static backend")
	flag.StringVar(&f.dsn, "db", "./cluster_cron.db", "sqlite database for the sqlite backend")
	flag.StringVar(&f.natsURL, "nats", nats.DefaultURL, "nats url for the nats backend")
	flag.DurationVar(&f.ttl, "ttl", 6*time.Second, "heartbeat ttl")
	flag.StringVar(&f.metricsAddr, "metrics", ":9464", "prometheus listen address, empty to disable")
	flag.Int64Var(&f.limiter, "limiter", 0, "max concurrent invocations on this node, 0 for default")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, f, log); err != nil {
		log.Error("fatal", zap.Error(err))
		os.Exit(1)
	}
}

// cluster 选定的成员发现后端
type cluster struct {
	membership cluster_cron.Membership
	locker     cluster_cron.Locker
	// heartbeat 为nil表示不需要上报心跳
	heartbeat func(ctx context.Context) error
	leave     func(ctx context.Context) error
	close     func()
}

func run(ctx context.Context, f flags, log *zap.Logger) error {
	jobs, err := loadJobs(f.config)
	if err != nil {
		return err
	}

	self := cluster_cron.NodeID(f.node)
	if self == "" {
		self = cluster_cron.NodeID(uuid.NewString())
	}

	c, err := newCluster(ctx, f, self)
	if err != nil {
		return err
	}
	defer c.close()

	sup := supervisor.New(ctx, supervisor.WithLogger(log))
	if c.heartbeat != nil {
		sup.GoRestart("membership:heartbeat", c.heartbeat)
	}

	telemetry := cluster_cron.MultiTelemetry{
		cluster_cron.TelemetryFunc(func(e cluster_cron.Event) {
			log.Debug("scheduler event", zap.Stringer("type", e.Type), zap.String("job", e.Job),
				zap.Time("tick", e.Time), zap.Error(e.Err))
		}),
	}
	if f.metricsAddr != "" {
		prom := metrics.NewPrometheus("cluster_cron")
		if err := prom.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		telemetry = append(telemetry, prom)
		srv := &http.Server{
			Addr:              f.metricsAddr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		sup.Go("metrics:http", func(ctx context.Context) error {
			go func() {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(sctx)
			}()
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	opts := []cluster_cron.Options{
		cluster_cron.WithZapLogger(log),
		cluster_cron.WithTelemetry(telemetry),
	}
	if f.limiter > 0 {
		opts = append(opts, cluster_cron.WithLimiter(f.limiter))
	}
	if c.heartbeat != nil {
		opts = append(opts, cluster_cron.WithMembershipCache(500*time.Millisecond))
	}
	sched := cluster_cron.NewSchedulerCore(self, c.membership, opts...)
	if err := registerExecutors(sched, c.locker, f.ttl, log); err != nil {
		return err
	}

	if err := sched.Start(ctx, jobs); err != nil {
		// 配置错误的Job不会启动，其它Job照常运行
		log.Warn("some jobs were rejected", zap.Error(err))
	}

	<-ctx.Done()
	log.Info("shutting down", zap.String("node", string(self)))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := sched.Stop(stopCtx); err != nil {
		log.Error("scheduler stop", zap.Error(err))
	}
	if c.leave != nil {
		if err := c.leave(stopCtx); err != nil {
			log.Warn("leave cluster", zap.Error(err))
		}
	}
	return sup.Stop(stopCtx)
}

func loadJobs(path string) ([]cluster_cron.JobConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return cluster_cron.LoadJobConfigs(file)
}

func newCluster(ctx context.Context, f flags, self cluster_cron.NodeID) (*cluster, error) {
	switch f.backend {
	case "static":
		var peers []cluster_cron.NodeID
		for _, p := range strings.Split(f.peers, ",") {
			if p = strings.TrimSpace(p); p != "" {
				peers = append(peers, cluster_cron.NodeID(p))
			}
		}
		return &cluster{
			membership: cluster_cron.NewStaticMembership(peers...),
			close:      func() {},
		}, nil

	case "sqlite":
		db, err := gorm.Open(sqlite.Open(f.dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.dsn, err)
		}
		if err := dao.InitTables(db); err != nil {
			return nil, err
		}
		m := repository.NewNodeMembership(dao.NewGORMNodeDAO(db), self, f.ttl)
		return &cluster{
			membership: m,
			locker:     repository.NewLockRepository(dao.NewGORMLockDAO(db)),
			heartbeat:  m.Run,
			leave:      m.Leave,
			close: func() {
				if sqlDB, err := db.DB(); err == nil {
					_ = sqlDB.Close()
				}
			},
		}, nil

	case "nats":
		nc, err := nats.Connect(f.natsURL, nats.Name("cluster-cron:"+string(self)))
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", f.natsURL, err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, err
		}
		m, err := natskv.NewMembership(ctx, js, self, f.ttl)
		if err != nil {
			nc.Close()
			return nil, err
		}
		l, err := natskv.NewLocker(ctx, js)
		if err != nil {
			nc.Close()
			return nil, err
		}
		return &cluster{
			membership: m,
			locker:     l,
			heartbeat:  m.Run,
			leave:      m.Leave,
			close:      nc.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown membership backend %q", f.backend)
	}
}

// registerExecutors 内置的执行器，log.locked 在集群内通过锁互斥
func registerExecutors(s *cluster_cron.SchedulerCore, locker cluster_cron.Locker, ttl time.Duration, log *zap.Logger) error {
	logFn := func(ctx context.Context, args ...any) error {
		log.Info("job executed", zap.Any("args", args))
		return nil
	}
	if err := s.Register("log", logFn); err != nil {
		return err
	}
	if locker == nil {
		return nil
	}

	return s.Register("log.locked", cluster_cron.WithLock(locker, "log.locked", ttl, logFn,
		cluster_cron.WithLockLogger(cluster_cron.NewZapLogger(log))))
}
