package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/suPer8Hu/autoreply-agent/internal/app"
	"github.com/suPer8Hu/autoreply-agent/internal/common"
	"github.com/suPer8Hu/autoreply-agent/internal/httpapi/handlers"
	"github.com/suPer8Hu/autoreply-agent/internal/httpapi/middleware"
)

// NewRouter wires the webhook, preview and dashboard endpoints. gatherer
// backs /metrics; nil skips the route.
func NewRouter(a *app.App, ing handlers.Ingester, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(a, ing)

	r.GET("/ping", h.Ping)
	r.GET("/healthz", h.Healthz)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.GET("/webhook", h.VerifyWebhook)
	api.POST("/webhook", h.ReceiveWebhook)
	api.POST("/test-agent", h.TestAgent)

	// dashboard
	api.GET("/agent", h.GetAgent)
	api.PUT("/agent", h.PutAgent)

	api.GET("/knowledge", h.ListKnowledge)
	api.POST("/knowledge", h.UploadKnowledge)
	api.DELETE("/knowledge/:id", h.DeleteKnowledge)

	api.GET("/connections", h.ListConnections)
	api.POST("/connections", h.CreateConnection)
	api.PATCH("/connections/:id", h.UpdateConnection)
	api.DELETE("/connections/:id", h.DeleteConnection)

	api.GET("/analytics", h.GetAnalytics)
	api.GET("/conversations/:id/messages", h.ListConversationMessages)
	return r
}
