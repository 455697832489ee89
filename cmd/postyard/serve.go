package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/postyard/internal/config"
	"github.com/zulandar/postyard/internal/controller"
	"github.com/zulandar/postyard/internal/dashboard"
	"github.com/zulandar/postyard/internal/events"
	"github.com/zulandar/postyard/internal/schedule"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		cronExpr   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web dashboard to control runs",
		Long: "Launches a local web dashboard that starts, pauses, resumes and stops runs, " +
			"accepts verification codes and streams live run events. With a schedule, " +
			"runs also start on every cron tick.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, cronExpr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "postyard.yaml", "path to Postyard config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config, 8080)")
	cmd.Flags().StringVar(&cronExpr, "schedule", "", "5-field cron expression for scheduled runs (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, cronExpr string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port <= 0 {
		port = cfg.Dashboard.Port
	}
	if cronExpr == "" {
		cronExpr = cfg.Schedule
	}
	if cronExpr != "" {
		if err := schedule.Validate(cronExpr); err != nil {
			return err
		}
	}

	svc, err := openServices(cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	broadcaster := dashboard.NewBroadcaster()
	ctrl := newController(svc, events.Multi(broadcaster, svc.sink()), out)
	load := func() (*config.Config, error) { return config.Load(configPath) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			if err := ctrl.Stop(); err == nil {
				<-ctrl.Done()
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	if cronExpr != "" {
		fmt.Fprintf(out, "Scheduled runs: %s\n", cronExpr)
		go schedule.Loop(ctx, schedule.Opts{
			Expr: cronExpr,
			Job:  scheduledStart(ctx, ctrl, load),
		})
	}

	return dashboard.Start(ctx, dashboard.Opts{
		Controller: ctrl,
		Events:     broadcaster,
		History:    svc.history,
		LoadConfig: load,
		Port:       port,
		Out:        out,
	})
}

// scheduledStart starts a run with freshly loaded config. A tick that
// lands on an active run is skipped.
func scheduledStart(ctx context.Context, ctrl dashboard.Controller, load func() (*config.Config, error)) func(context.Context) error {
	return func(context.Context) error {
		cfg, err := load()
		if err != nil {
			return err
		}
		if err := ctrl.Start(ctx, cfg); err != nil {
			if errors.Is(err, controller.ErrAlreadyRunning) {
				log.Printf("schedule: run still active, skipping tick")
				return nil
			}
			return err
		}
		return nil
	}
}
