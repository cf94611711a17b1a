package api

import (
	"github.com/cuemby/stormctl/pkg/metrics"
	"github.com/cuemby/stormctl/pkg/service"
	"github.com/gin-gonic/gin"
)

func setupRoutes(r *gin.Engine, svc *service.Service, authToken string) {
	r.GET("/healthz", healthzHandler)
	r.GET("/livez", gin.WrapH(metrics.LivenessHandler()))
	r.GET("/readyz", gin.WrapH(metrics.ReadyHandler()))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	h := &handlers{svc: svc}

	upcall := r.Group("/upcall", authMiddleware(authToken))
	upcall.POST("/re-attach", h.reAttach)
	upcall.POST("/validate", h.validate)
	upcall.POST("/attach-hook", h.attachHook)
	upcall.POST("/inspect", h.inspect)

	control := r.Group("/control/v1", authMiddleware(authToken))
	control.POST("/tenant", h.createTenant)
	control.GET("/tenant/:id", h.getTenant)
	control.DELETE("/tenant/:id", h.deleteTenant)
	control.PUT("/tenant/:id/location_config", h.configureLocation)
	control.POST("/tenant/:id/shard_split", h.shardSplit)
	control.POST("/tenant/:id/migrate", h.migrateTenant)
	control.PUT("/tenant/:id/policy", h.setPolicy)

	control.GET("/node", h.listNodes)
	control.POST("/node", h.registerNode)
	control.PUT("/node/:id/configure", h.configureNode)
	control.PUT("/node/:id/drain", h.drainNode)
	control.PUT("/node/:id/fill", h.fillNode)
}

func healthzHandler(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}
