package dashboard

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/postyard/internal/controller"
	"github.com/zulandar/postyard/internal/models"
)

type server struct {
	ctx  context.Context
	opts Opts
}

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, s *server) {
	router.GET("/", handleIndex)

	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/events", handleEvents(s.opts.Events))
	api.GET("/runs", s.handleRuns)
	api.GET("/runs/:id", s.handleRun)

	api.POST("/start", s.handleStart)
	api.POST("/pause", s.command(s.opts.Controller.Pause))
	api.POST("/resume", s.command(s.opts.Controller.Resume))
	api.POST("/stop", s.command(s.opts.Controller.Stop))
	api.POST("/two-factor", s.handleCode(s.opts.Controller.ResolveTwoFactor))
	api.POST("/challenge", s.handleCode(s.opts.Controller.ResolveChallenge))
}

func handleIndex(c *gin.Context) {
	data, err := assetsFS.ReadFile("assets/index.html")
	if err != nil {
		c.String(http.StatusInternalServerError, "index missing")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", data)
}

func (s *server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Controller.Snapshot())
}

func (s *server) handleStart(c *gin.Context) {
	cfg, err := s.opts.LoadConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.opts.Controller.Start(s.ctx, cfg); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, s.opts.Controller.Snapshot())
}

func (s *server) command(fn func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, s.opts.Controller.Snapshot())
	}
}

type codeRequest struct {
	Code string `json:"code" binding:"required"`
}

func (s *server) handleCode(fn func(code string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req codeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
			return
		}
		if err := fn(req.Code); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, s.opts.Controller.Snapshot())
	}
}

// runView is the JSON shape of a run in the history endpoints.
type runView struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	InputPath  string     `json:"input_path"`
	Status     string     `json:"status"`
	Total      int        `json:"total"`
	Posted     int        `json:"posted"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func toRunView(r models.Run) runView {
	return runView{
		ID:         r.ID,
		Username:   r.Username,
		InputPath:  r.InputPath,
		Status:     r.Status,
		Total:      r.Total,
		Posted:     r.Posted,
		Failed:     r.Failed,
		Skipped:    r.Skipped,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

type attemptView struct {
	Filename  string    `json:"filename"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	MediaID   string    `json:"media_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *server) handleRuns(c *gin.Context) {
	runs := []runView{}
	if s.opts.History == nil {
		c.JSON(http.StatusOK, runs)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	found, err := s.opts.History.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	for _, r := range found {
		runs = append(runs, toRunView(r))
	}
	c.JSON(http.StatusOK, runs)
}

func (s *server) handleRun(c *gin.Context) {
	if s.opts.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return
	}
	ctx := c.Request.Context()
	run, err := s.opts.History.GetRun(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	attempts, err := s.opts.History.Attempts(ctx, run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]attemptView, 0, len(attempts))
	for _, a := range attempts {
		views = append(views, attemptView{
			Filename:  a.Filename,
			Outcome:   a.Outcome,
			Detail:    a.Detail,
			MediaID:   a.MediaID,
			CreatedAt: a.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"run": toRunView(*run), "attempts": views})
}

// statusFor maps controller errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, controller.ErrAlreadyRunning), errors.Is(err, controller.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
