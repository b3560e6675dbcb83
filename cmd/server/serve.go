package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eldtechnologies/supportbot/internal/api"
	"github.com/eldtechnologies/supportbot/internal/api/middleware"
	"github.com/eldtechnologies/supportbot/internal/bridge"
	"github.com/eldtechnologies/supportbot/internal/handlers"
	"github.com/eldtechnologies/supportbot/internal/queue"
	"github.com/eldtechnologies/supportbot/internal/tasks"
)

func serveCmd() *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat websocket and admin HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx, "server")
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx, withWorker)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "worker", true, "also run the task worker and scheduler in this process")
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the task worker and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx, "worker")
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireQueue(); err != nil {
				return err
			}

			var wg sync.WaitGroup
			a.startBackground(ctx, &wg)
			<-ctx.Done()
			a.logger.Info().Msg("shutting down worker...")
			wg.Wait()
			return nil
		},
	}
}

// serve runs the HTTP server until ctx is done.
func (a *App) serve(ctx context.Context, withWorker bool) error {
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	var limiter *middleware.RateLimiter
	if a.rdb != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bridge.Relay(bg, a.rdb, a.cfg.RedisRoot, a.hub, a.logger, nil); err != nil {
				a.logger.Error().Err(err).Msg("event relay stopped")
			}
		}()
		limiter = middleware.NewRateLimiter(a.rdb, a.logger, middleware.RateLimiterConfig{
			Root:      a.cfg.RedisRoot,
			Whitelist: a.cfg.RateLimitWhitelist,
		})
	}
	if withWorker && a.orch != nil {
		a.startBackground(bg, &wg)
	}
	if a.cfg.SweepOnStartup && a.orch != nil {
		a.launchStartupSweep(ctx)
	}

	h := handlers.NewHandler(handlers.Deps{
		Store:        a.store,
		Redis:        a.rdb,
		Queue:        a.queue,
		Orchestrator: a.orch,
		Bridge:       a.bridge,
		Hub:          a.hub,
		Logger:       a.logger,
	})

	srv := &http.Server{
		Addr:         a.cfg.Addr(),
		Handler:      api.NewRouter(a.logger, h, limiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().
			Str("port", a.cfg.Port).
			Str("env", a.cfg.Env).
			Str("storage", a.cfg.StorageBackend()).
			Msg("starting supportbot server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.logger.Info().Msg("server stopped")
	return nil
}

// startBackground runs the worker and the scheduler until ctx is done.
func (a *App) startBackground(ctx context.Context, wg *sync.WaitGroup) {
	worker := queue.NewWorker(a.queue, a.runner.Funcs(), a.orch, queue.WorkerOptions{
		Concurrency: a.cfg.WorkerConcurrency,
	}, a.logger)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := worker.Run(ctx); err != nil {
			a.logger.Error().Err(err).Msg("worker stopped")
		}
	}()
	go func() {
		defer wg.Done()
		if err := a.scheduler.Run(ctx); err != nil {
			a.logger.Error().Err(err).Msg("scheduler stopped")
		}
	}()
}

// launchStartupSweep answers messages left unanswered while the server was
// down. The sweep then reschedules itself to repeat.
func (a *App) launchStartupSweep(ctx context.Context) {
	running, err := a.orch.GetTaskInProgress(ctx, tasks.TaskSweep)
	if err != nil {
		a.logger.Error().Err(err).Msg("error checking for a running sweep")
		return
	}
	if running != nil {
		a.logger.Info().Str("job_id", running.ID).Msg("unanswered message sweep already queued")
		return
	}
	if _, err := a.orch.LaunchTask(ctx, tasks.TaskSweep, "Handle unanswered messages", map[string]any{"startup": true}); err != nil {
		a.logger.Error().Err(err).Msg("error launching unanswered message sweep")
	}
}
