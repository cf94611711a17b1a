package api

import (
	"net/http"

	"github.com/cuemby/stormctl/pkg/service"
	"github.com/cuemby/stormctl/pkg/types"
	"github.com/gin-gonic/gin"
)

type createTenantRequestDTO struct {
	TenantID        types.TenantId        `json:"tenant_id" binding:"required"`
	ShardCount      types.ShardCount      `json:"shard_count"`
	StripeSize      uint32                `json:"stripe_size"`
	PlacementPolicy types.PlacementPolicy `json:"placement_policy"`
}

func (h *handlers) createTenant(c *gin.Context) {
	var req createTenantRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.svc.CreateTenant(c.Request.Context(), service.CreateTenantRequest{
		TenantID:        req.TenantID,
		ShardCount:      req.ShardCount,
		StripeSize:      req.StripeSize,
		PlacementPolicy: req.PlacementPolicy,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tenant_id": req.TenantID})
}

func (h *handlers) getTenant(c *gin.Context) {
	tenant := types.TenantId(c.Param("id"))
	var shards []gin.H
	for _, sh := range h.svc.Shards() {
		if sh.ID.TenantId != tenant {
			continue
		}
		attached, _ := sh.IntentAttached()
		shards = append(shards, gin.H{
			"tenant_shard_id": sh.ID.String(),
			"attached_node":   attached,
			"secondary_nodes": sh.SecondaryNodes(),
			"generation":      sh.GetGeneration().String(),
			"placement_policy": sh.PlacementPolicy,
		})
	}
	if len(shards) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenant, "shards": shards})
}

func (h *handlers) deleteTenant(c *gin.Context) {
	tenant := types.TenantId(c.Param("id"))
	if err := h.svc.DeleteTenant(c.Request.Context(), tenant); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) configureLocation(c *gin.Context) {
	tenant := types.TenantId(c.Param("id"))
	var req struct {
		ShardNumber     types.ShardNumber    `json:"shard_number"`
		ShardCount      types.ShardCount     `json:"shard_count"`
		PlacementPolicy types.PlacementPolicy `json:"placement_policy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := types.TenantShardId{TenantId: tenant, ShardNumber: req.ShardNumber, ShardCount: req.ShardCount}
	err := h.svc.ConfigureLocation(c.Request.Context(), service.ConfigureLocationRequest{
		TenantShardID:   id,
		PlacementPolicy: req.PlacementPolicy,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *handlers) shardSplit(c *gin.Context) {
	tenant := types.TenantId(c.Param("id"))
	var req struct {
		NewShardCount types.ShardCount `json:"new_shard_count" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.SplitTenant(c.Request.Context(), tenant, req.NewShardCount); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *handlers) migrateTenant(c *gin.Context) {
	tenant := types.TenantId(c.Param("id"))
	var req struct {
		NodeID types.NodeId `json:"node_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.MigrateTenant(c.Request.Context(), tenant, req.NodeID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *handlers) setPolicy(c *gin.Context) {
	tenant := types.TenantId(c.Param("id"))
	var req struct {
		ShardNumber     types.ShardNumber     `json:"shard_number"`
		ShardCount      types.ShardCount      `json:"shard_count"`
		PlacementPolicy types.PlacementPolicy `json:"placement_policy" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := types.TenantShardId{TenantId: tenant, ShardNumber: req.ShardNumber, ShardCount: req.ShardCount}
	err := h.svc.ConfigureLocation(c.Request.Context(), service.ConfigureLocationRequest{
		TenantShardID:   id,
		PlacementPolicy: req.PlacementPolicy,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
