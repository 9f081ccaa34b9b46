package http

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mallfront/storefront-client/internal/infrastructure/http/handlers"
)

const metricsPath = "/metrics"

// RouterConfig wires the ops endpoint. Redis may be nil when sessions are kept
// in memory. Registerer and Gatherer default to the global Prometheus registry.
type RouterConfig struct {
	Redis      *redis.Client
	Session    handlers.SessionProbe
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// NewRouter builds the operations endpoint of the sync daemon.
func NewRouter(cfg RouterConfig) *echo.Echo {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "storefront",
		Subsystem:  "ops",
		Registerer: reg,
		Skipper: func(c echo.Context) bool {
			return c.Path() == metricsPath
		},
	}))

	health := handlers.NewHealthHandler(cfg.Session)
	ready := handlers.NewHealthDependenciesHandler(cfg.Redis)

	e.GET("/health", health.Liveness)
	e.GET("/health/ready", ready.Readiness)
	e.GET(metricsPath, echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return e
}
