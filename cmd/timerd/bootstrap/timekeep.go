// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"fmt"
	rawLog "log"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/timekeep-io/timekeep/common/clock"
	"github.com/timekeep-io/timekeep/common/log"
	"github.com/timekeep-io/timekeep/common/log/tag"
	"github.com/timekeep-io/timekeep/config"
	"github.com/timekeep-io/timekeep/schedule"
	"github.com/timekeep-io/timekeep/service"
	"github.com/timekeep-io/timekeep/store"
	"github.com/timekeep-io/timekeep/store/memorystore"
	"github.com/timekeep-io/timekeep/store/sqlstore"
	"github.com/timekeep-io/timekeep/timer"
)

const FlagConfig = "config"

// heartbeatObjectID is the demo timed object this server hosts: an auto
// timer logging a heartbeat once a minute.
const heartbeatObjectID = "timekeep/Heartbeat"

func StartTimekeepServerCli(c *cli.Context) {
	// register interrupt signal for graceful shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	configPath := c.String(FlagConfig)
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		rawLog.Fatalf("Unable to load config for path %v because of error %v", configPath, err)
	}

	shutdownFunc := StartTimekeepServer(rootCtx, cfg)
	// wait for os signals
	<-rootCtx.Done()

	ctx, cancF := context.WithTimeout(context.Background(), time.Second*10)
	defer cancF()
	if err := shutdownFunc(ctx); err != nil {
		fmt.Println("shutdown error:", err)
	}
}

type GracefulShutdown func(ctx context.Context) error

func StartTimekeepServer(rootCtx context.Context, cfg *config.Config) GracefulShutdown {
	zapLogger, err := cfg.Log.NewZapLogger()
	if err != nil {
		rawLog.Fatalf("Unable to create a new zap logger %v", err)
	}
	logger := log.NewLogger(zapLogger)
	logger.Info("config is loaded", tag.Value(cfg.String()))

	timerStore, err := newTimerStore(cfg, logger)
	if err != nil {
		logger.Fatal("error on timer store setup", tag.Error(err))
	}

	registry := service.NewRegistry(logger)
	svc := service.NewTimerService(cfg.Timers, timerStore,
		&heartbeatInvoker{logger: logger}, logger, clock.NewRealTimeSource())
	if err := registry.Register(svc); err != nil {
		logger.Fatal("failed to register timer service", tag.Error(err))
	}

	everyMinute := schedule.NewExpression()
	everyMinute.Minute = "*"
	everyMinute.Hour = "*"
	err = svc.Start(rootCtx, []service.AutoTimerDecl{
		{
			Schedule:   everyMinute,
			Method:     timer.MethodRef{Name: "beat"},
			Persistent: cfg.Database.SQL != nil,
		},
	})
	if err != nil {
		logger.Fatal("failed to start timer service", tag.Error(err))
	}

	return func(ctx context.Context) error {
		var errs error
		registry.Close()
		if err := timerStore.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}
		return errs
	}
}

func newTimerStore(cfg *config.Config, logger log.Logger) (store.Store, error) {
	if cfg.Database.SQL == nil {
		logger.Info("no database configured, timers will not survive a restart")
		return memorystore.NewStore(), nil
	}
	return sqlstore.NewStore(*cfg.Database.SQL, logger)
}

// heartbeatInvoker is the timeout callback of the demo timed object.
type heartbeatInvoker struct {
	logger log.Logger
}

func (h *heartbeatInvoker) TimedObjectID() string {
	return heartbeatObjectID
}

func (h *heartbeatInvoker) Invoke(_ context.Context, tm *timer.Timer) error {
	fields := []tag.Tag{tag.TimerID(tm.ID())}
	if method := tm.TimeoutMethod(); method != nil {
		fields = append(fields, tag.Method(method.Name))
	}
	if prev, ok := tm.PreviousRun(); ok {
		fields = append(fields, tag.PreviousRun(prev))
	}
	h.logger.Info("heartbeat", fields...)
	return nil
}
