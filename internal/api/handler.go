package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Aniket17200/Profitfirst/internal/dashboard"
	"github.com/Aniket17200/Profitfirst/internal/models"
	"github.com/Aniket17200/Profitfirst/internal/normalize"
	"github.com/Aniket17200/Profitfirst/internal/service"
	"github.com/Aniket17200/Profitfirst/internal/store"
	"github.com/Aniket17200/Profitfirst/internal/util"
)

const ownerHeader = "X-Owner-ID"

type DashboardProvider interface {
	GetDashboard(ctx context.Context, ownerID string, r normalize.DateRange) (*dashboard.Dashboard, error)
}

type ForecastProvider interface {
	GetForecast(ctx context.Context, ownerID string, useModel bool) (*dashboard.ForecastView, error)
}

type MetricsReader interface {
	GetDailyMetrics(ctx context.Context, ownerID string, from, to time.Time) ([]models.DailyMetric, error)
}

// Pinger is a dependency checked by /ready
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	dashboards DashboardProvider
	forecasts  ForecastProvider
	metrics    MetricsReader
	checks     map[string]Pinger
	now        func() time.Time
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler. checks are pinged by /ready.
func NewHandler(dashboards DashboardProvider, forecasts ForecastProvider, metrics MetricsReader, checks map[string]Pinger) *Handler {
	return &Handler{
		dashboards: dashboards,
		forecasts:  forecasts,
		metrics:    metrics,
		checks:     checks,
		now:        time.Now,
		logger:     util.ComponentLogger("api"),
	}
}

// WithClock overrides the clock used for default date ranges
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(requireOwner())
	{
		v1.GET("/dashboard", h.getDashboard)
		v1.GET("/forecast", h.getForecast)
		v1.GET("/metrics/daily", h.getDailyMetrics)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"failed": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) getDashboard(c *gin.Context) {
	r, err := normalize.ParseDateRange(c.Query("startDate"), c.Query("endDate"), h.now())
	if err != nil {
		h.fail(c, err)
		return
	}

	d, err := h.dashboards.GetDashboard(c.Request.Context(), ownerID(c), r)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) getForecast(c *gin.Context) {
	useModel := false
	if v := c.Query("useAI"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "useAI must be true or false"})
			return
		}
		useModel = b
	}

	view, err := h.forecasts.GetForecast(c.Request.Context(), ownerID(c), useModel)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) getDailyMetrics(c *gin.Context) {
	r, err := normalize.ParseDateRange(c.Query("startDate"), c.Query("endDate"), h.now())
	if err != nil {
		h.fail(c, err)
		return
	}

	rows, err := h.metrics.GetDailyMetrics(c.Request.Context(), ownerID(c), r.Start, r.End)
	if err != nil {
		h.fail(c, err)
		return
	}
	if rows == nil {
		rows = []models.DailyMetric{}
	}
	c.JSON(http.StatusOK, gin.H{
		"startDate": r.StartDate(),
		"endDate":   r.EndDate(),
		"days":      rows,
	})
}

// fail maps domain errors onto status codes
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, normalize.ErrInvalidRange):
		status, msg = http.StatusBadRequest, "invalid date range"
	case errors.Is(err, store.ErrNotFound):
		status, msg = http.StatusNotFound, "owner not configured"
	case errors.Is(err, service.ErrTotalFailure):
		status, msg = http.StatusBadGateway, "order data unavailable"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("owner_id", ownerID(c)),
			zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

func ownerID(c *gin.Context) string {
	return c.GetString(ownerHeader)
}

func requireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(ownerHeader)
		if id == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing " + ownerHeader + " header"})
			return
		}
		c.Set(ownerHeader, id)
		c.Next()
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
