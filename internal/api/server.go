package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"finsign-bi/internal/etl"
	"finsign-bi/internal/storage"
)

// Triggers start ETL work on demand.
type Triggers interface {
	LoadOzon(ctx context.Context, opts etl.OzonOptions) (etl.Result, error)
	LoadWB(ctx context.Context, opts etl.WBOptions) (etl.Result, error)
	DefaultWBWindow() (time.Time, time.Time)
	RebuildMart(ctx context.Context) (etl.Result, error)
	ReapStale(ctx context.Context) (int64, error)
}

// Reader serves the read side of the panel.
type Reader interface {
	storage.KPIReader
	storage.RunReader
}

// Options configure the admin HTTP server.
type Options struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	DefaultDays    int
	Release        bool
}

// Server is the admin panel: KPI reads and manual ETL triggers.
type Server struct {
	triggers Triggers
	reader   Reader
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

// New builds the admin server.
func New(triggers Triggers, reader Reader, opts Options, logger zerolog.Logger) *Server {
	if opts.DefaultDays <= 0 {
		opts.DefaultDays = 30
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{
		triggers: triggers,
		reader:   reader,
		opts:     opts,
		logger:   logger.With().Str("component", "api").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handler returns the router wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	if s.opts.Release {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.health)

	v1 := router.Group("/api/v1")
	v1.GET("/kpi", s.listKPI)
	v1.GET("/kpi/summary", s.kpiSummary)
	v1.GET("/runs", s.listRuns)
	v1.POST("/runs/reap", s.reapRuns)
	v1.POST("/etl/ozon", s.loadOzon)
	v1.POST("/etl/wb", s.loadWB)
	v1.POST("/mart/rebuild", s.rebuildMart)

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(router)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("admin panel listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve admin panel: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown admin panel: %w", err)
	}
	s.logger.Info().Msg("admin panel stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := s.logger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = s.logger.Warn()
		}
		event.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	}
}
