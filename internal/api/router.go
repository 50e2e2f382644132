package api

import (
	"strconv"

	"github.com/datallboy/nzbleecher/internal/api/controllers"
	"github.com/datallboy/nzbleecher/internal/app"
	"github.com/datallboy/nzbleecher/internal/metrics"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(e *echo.Echo, app *app.Context, engine controllers.Engine) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			metrics.HTTPRequestsTotal.WithLabelValues(v.Method, path, strconv.Itoa(v.Status)).Inc()
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	queueCtrl := &controllers.QueueController{App: app, Engine: engine}
	historyCtrl := &controllers.HistoryController{App: app}

	g := e.Group("/api")
	g.GET("/status", queueCtrl.HandleStatus)
	g.POST("/archives", queueCtrl.HandleEnqueue)
	g.DELETE("/archives/:id", queueCtrl.HandleCancel)
	g.POST("/postpone", queueCtrl.HandlePostpone)
	g.POST("/resume", queueCtrl.HandleResume)
	g.GET("/history", historyCtrl.HandleList)
	g.GET("/history/:id", historyCtrl.HandleGet)

	// Prometheus scrape endpoint
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
