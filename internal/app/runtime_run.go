package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwizi/mind-bridge/internal/heartbeat"
)

const defaultBeatInterval = 20 * time.Second

func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("mind-bridge runtime starting", "mode", runMode(r.cfg), "store", r.cfg.StoreBackend(), "http_addr", r.cfg.HTTPAddr())
	if r.heartbeat != nil {
		r.heartbeat.Beat("runtime", "runtime loop started")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		// The connector reports its own state.
		return r.connector.Start(groupCtx)
	})
	interval := componentBeatInterval(r.cfg)
	group.Go(func() error {
		// Beats come from successful pings only.
		return runMonitored(groupCtx, r.heartbeat, heartbeat.ComponentStore, 0, func(runCtx context.Context) error {
			return r.watchStore(runCtx, interval)
		})
	})
	if r.httpServer != nil {
		group.Go(func() error {
			return runMonitored(groupCtx, r.heartbeat, heartbeat.ComponentHTTP, interval, func(runCtx context.Context) error {
				err := r.httpServer.ListenAndServe()
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			})
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return r.httpServer.Shutdown(shutdownCtx)
		})
	}
	if r.heartbeatMonitor != nil {
		group.Go(func() error {
			return r.heartbeatMonitor.Start(groupCtx)
		})
	}

	err := group.Wait()
	if r.heartbeat != nil {
		r.heartbeat.Stopped("runtime", "stopped")
	}
	r.logger.Info("mind-bridge runtime stopped")
	return err
}

func (r *Runtime) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

// watchStore pings the store until ctx ends. The store component is degraded
// while pings fail.
func (r *Runtime) watchStore(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := r.store.Ping(pingCtx)
			cancel()
			switch {
			case ctx.Err() != nil:
			case err != nil:
				r.logger.Warn("store ping failed", "error", err)
				if r.heartbeat != nil {
					r.heartbeat.Degrade(heartbeat.ComponentStore, "ping failed", err)
				}
			case r.heartbeat != nil:
				r.heartbeat.Beat(heartbeat.ComponentStore, "ping ok")
			}
		}
	}
}

func runMonitored(
	ctx context.Context,
	reporter heartbeat.Reporter,
	component string,
	beatInterval time.Duration,
	run func(context.Context) error,
) error {
	if run == nil {
		return nil
	}
	if reporter != nil {
		reporter.Starting(component, "starting")
		reporter.Beat(component, "running")
	}

	var stopHeartbeat func()
	if reporter != nil && beatInterval > 0 {
		heartbeatCtx, cancel := context.WithCancel(ctx)
		beats := make(chan struct{})
		stopHeartbeat = func() {
			cancel()
			<-beats
		}
		go func() {
			defer close(beats)
			ticker := time.NewTicker(beatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-heartbeatCtx.Done():
					return
				case <-ticker.C:
					reporter.Beat(component, "running")
				}
			}
		}()
	}

	err := run(ctx)
	if stopHeartbeat != nil {
		stopHeartbeat()
	}
	if reporter == nil {
		return err
	}
	if err != nil && ctx.Err() == nil {
		reporter.Degrade(component, "component failed", err)
		return err
	}
	reporter.Stopped(component, "stopped")
	return err
}
