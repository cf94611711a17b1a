package api

import (
	"net/http"

	"github.com/cuemby/stormctl/pkg/types"
	"github.com/gin-gonic/gin"
)

func (h *handlers) listNodes(c *gin.Context) {
	nodes := h.svc.Nodes()
	out := make([]*types.Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n)
	}
	c.JSON(http.StatusOK, gin.H{"nodes": out})
}

func (h *handlers) registerNode(c *gin.Context) {
	var req types.Node
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.RegisterNode(c.Request.Context(), &req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"node_id": req.ID})
}

func (h *handlers) configureNode(c *gin.Context) {
	node := types.NodeId(c.Param("id"))
	var req struct {
		SchedulingPolicy types.NodeSchedulingPolicy `json:"scheduling_policy" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.ConfigureNode(c.Request.Context(), node, req.SchedulingPolicy); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *handlers) drainNode(c *gin.Context) {
	node := types.NodeId(c.Param("id"))
	if err := h.svc.DrainNode(c.Request.Context(), node); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *handlers) fillNode(c *gin.Context) {
	node := types.NodeId(c.Param("id"))
	if err := h.svc.FillNode(c.Request.Context(), node); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
