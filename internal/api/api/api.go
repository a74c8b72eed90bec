package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wb-go/wbf/ginext"

	"gameRoster/cmd/middleware"
	"gameRoster/internal/metrics"
	"gameRoster/internal/service"
)

type Routers struct {
	Service   service.Service
	Metrics   *metrics.Metrics
	JWTSecret string
	Mode      string
}

func NewRouters(r *Routers) *ginext.Engine {
	mode := r.Mode
	if mode == "" {
		mode = "release"
	}
	app := ginext.New(mode)

	app.Use(gin.Recovery())
	app.Use(middleware.LoggingMiddleware())
	if r.Metrics != nil {
		app.Use(middleware.Metrics(r.Metrics))
	}
	app.Use(cors.New(corsConfig()))

	app.GET("/healthz", func(c *ginext.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	app.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := app.Group("/v1")
	apiGroup.Use(middleware.Auth(r.JWTSecret))

	apiGroup.GET("/events/:id", r.Service.GetInfo)
	apiGroup.GET("/events/:id/stream", r.Service.Stream)
	apiGroup.POST("/events/:id/participants", r.Service.Join)
	apiGroup.DELETE("/participants/:id", r.Service.RemoveParticipant)
	apiGroup.PATCH("/participants/:id/role", r.Service.SwitchRole)

	organizer := apiGroup.Group("", middleware.RequireAuth())
	organizer.POST("/events", r.Service.CreateEvent)
	organizer.GET("/events", r.Service.GetAllEvents)
	organizer.PATCH("/events/:id", r.Service.UpdateEvent)
	organizer.DELETE("/events/:id", r.Service.DeleteEvent)
	organizer.POST("/events/:id/duplicate", r.Service.DuplicateEvent)
	organizer.GET("/participants/:id/details", r.Service.ParticipantDetails)
	organizer.GET("/me/profile", r.Service.GetProfile)
	organizer.PUT("/me/profile", r.Service.SaveProfile)

	return app
}

// corsConfig allows any origin to send the bearer token used by Auth.
func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AddAllowHeaders("Authorization")
	return cfg
}
