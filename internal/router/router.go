package router

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/certificate-request-service/api"
	"github.com/psds-microservice/certificate-request-service/internal/handler"
	"github.com/psds-microservice/certificate-request-service/internal/identity"
	"github.com/psds-microservice/certificate-request-service/internal/service"
	"github.com/psds-microservice/helpy/paths"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type Deps struct {
	Engine *service.Engine
	Names  identity.Resolver
	DB     handler.Pinger
	Log    *slog.Logger
}

func New(d Deps) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(d.Log))

	health := handler.NewHealthHandler(d.DB)
	r.GET(paths.PathHealth, health.Health)
	r.GET(paths.PathReady, health.Ready)
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/openapi.json"))(c)
	})

	tickets := handler.NewTicketHandler(d.Engine, d.Names, d.Log)
	responses := handler.NewResponseHandler(d.Engine, d.Log)
	ops := handler.NewOperationsHandler(d.Engine, d.Log)
	public := handler.NewPublicHandler(d.Engine, d.Log)

	v1 := r.Group("/api/v1")
	{
		// без X-Caller-ID: заявители и payment-service
		v1.POST("/tickets", tickets.Create)
		v1.GET("/public/requests/:number", public.Track)
		v1.POST("/payments/callback", ops.PaymentCallback)
	}

	staff := v1.Group("", handler.RequireCaller())
	{
		staff.GET("/tickets", tickets.List)
		staff.GET("/tickets/:id", tickets.Get)
		staff.POST("/tickets/:id/transitions", tickets.Transition)
		staff.POST("/tickets/:id/manual-transitions", tickets.ManualTransition)
		staff.PUT("/tickets/:id/assignee", tickets.Assign)
		staff.DELETE("/tickets/:id/assignee", tickets.Unassign)
		staff.PUT("/tickets/:id/priority", tickets.SetPriority)
		staff.PUT("/tickets/:id/notes", tickets.SetNotes)
		staff.PUT("/tickets/:id/payment", tickets.LinkPayment)
		staff.POST("/tickets/:id/comments", tickets.AddComment)
		staff.GET("/tickets/:id/activity", tickets.Activity)
		staff.GET("/tickets/:id/response", responses.Get)
		staff.POST("/tickets/:id/response/:action", responses.Apply)
		staff.POST("/tickets/bulk", ops.Bulk)
		staff.POST("/payments/:payment_id/reconcile", ops.Reconcile)
		staff.GET("/statistics", ops.Stats)
	}

	return r
}

func requestLog(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.FullPath() == paths.PathHealth || c.FullPath() == paths.PathReady {
			return
		}
		log.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
