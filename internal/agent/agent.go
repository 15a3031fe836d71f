package agent

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"trafficwatch/internal/config"
	"trafficwatch/internal/logger"
	"trafficwatch/internal/metrics"
	"trafficwatch/internal/models"
)

// Agent serves the host's stats in the payload format the poller consumes
type Agent struct {
	addr    string
	token   string
	quota   Quota
	sampler Sampler
	engine  *gin.Engine
}

// New creates an agent. A nil sampler reads the local host.
func New(cfg config.AgentConfig, sampler Sampler) (*Agent, error) {
	if cfg.QuotaGB <= 0 {
		return nil, ErrInvalidQuota
	}
	mode, err := ParseCountMode(cfg.CountMode)
	if err != nil {
		return nil, err
	}
	if sampler == nil {
		sampler = SystemSampler{}
	}

	a := &Agent{
		addr:    cfg.Addr,
		token:   cfg.Token,
		quota:   Quota{TotalGB: cfg.QuotaGB, Mode: mode},
		sampler: sampler,
	}
	a.engine = a.routes()
	return a, nil
}

// Handler returns the agent's HTTP handler
func (a *Agent) Handler() http.Handler { return a.engine }

func (a *Agent) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(a.recovery(), a.logging())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	authed := r.Group("/")
	authed.Use(a.auth())
	authed.GET("/stats", a.stats)

	return r
}

func (a *Agent) stats(c *gin.Context) {
	sample, err := a.sampler.Sample(c.Request.Context())
	if err != nil {
		log := logger.WithComponent("agent")
		log.Error().Err(err).Msg("failed to sample host")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	freeGB, percentFree := a.quota.Remaining(sample)
	c.JSON(http.StatusOK, models.NewStatsPayload(freeGB, percentFree, sample.CPUPercent, sample.RAMPercent))
}

// auth requires "Authorization: Bearer <token>" when a token is configured
func (a *Agent) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (a *Agent) logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log := logger.WithComponent("agent")
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	}
}

func (a *Agent) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		log := logger.WithComponent("agent")
		log.Error().
			Interface("panic", err).
			Str("path", c.Request.URL.Path).
			Msg("panic recovered")
		metrics.PanicsRecovered.WithLabelValues("agent").Inc()
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (a *Agent) Run(ctx context.Context) error {
	log := logger.WithComponent("agent")
	srv := &http.Server{
		Addr:         a.addr,
		Handler:      a.engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", a.addr).
			Float64("quota_gb", a.quota.TotalGB).
			Str("count_mode", string(a.quota.Mode)).
			Bool("auth", a.token != "").
			Msg("stats agent listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("stats agent stopped")
	return nil
}
