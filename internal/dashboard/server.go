// Package dashboard serves the HTTP control surface for a controller: run
// status, pause/resume/stop commands, verification code entry and a live
// event stream.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/postyard/internal/config"
	"github.com/zulandar/postyard/internal/controller"
	"github.com/zulandar/postyard/internal/history"
)

// Controller is the subset of *controller.Controller the dashboard drives.
type Controller interface {
	Start(ctx context.Context, cfg *config.Config) error
	Pause() error
	Resume() error
	Stop() error
	ResolveTwoFactor(code string) error
	ResolveChallenge(code string) error
	Snapshot() controller.Snapshot
}

// Opts holds configuration for the dashboard server.
type Opts struct {
	Controller Controller
	Events     *Broadcaster
	// History is optional; without it /api/runs lists nothing.
	History *history.Store
	// LoadConfig supplies the configuration for each start request.
	LoadConfig func() (*config.Config, error)
	Port       int
	Out        io.Writer
}

func (o *Opts) validate() error {
	if o.Controller == nil {
		return fmt.Errorf("dashboard: controller is required")
	}
	if o.Events == nil {
		return fmt.Errorf("dashboard: broadcaster is required")
	}
	if o.LoadConfig == nil {
		return fmt.Errorf("dashboard: config loader is required")
	}
	return nil
}

// NewHandler builds the dashboard router. Runs started through it live
// until ctx is cancelled.
func NewHandler(ctx context.Context, opts Opts) (http.Handler, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, &server{ctx: ctx, opts: opts})
	return router, nil
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts Opts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	handler, err := NewHandler(ctx, opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: handler,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
