package api

import (
	"net/http"

	"github.com/cuemby/stormctl/pkg/apierror"
	"github.com/cuemby/stormctl/pkg/service"
	"github.com/cuemby/stormctl/pkg/types"
	"github.com/gin-gonic/gin"
)

type handlers struct {
	svc *service.Service
}

func respondError(c *gin.Context, err error) {
	c.JSON(apierror.KindOf(err).Status(), gin.H{"error": err.Error()})
}

type reAttachRequest struct {
	NodeID   types.NodeId `json:"node_id" binding:"required"`
	Register *types.Node  `json:"register_node,omitempty"`
}

type reAttachResponseEntry struct {
	TenantShardID string                    `json:"tenant_shard_id"`
	Generation    *uint32                   `json:"generation"`
	Mode          types.LocationConfigMode `json:"mode"`
}

func (h *handlers) reAttach(c *gin.Context) {
	var req reAttachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entries, err := h.svc.ReAttach(c.Request.Context(), req.NodeID, req.Register)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]reAttachResponseEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, reAttachResponseEntry{TenantShardID: e.TenantShardID.String(), Generation: e.Generation, Mode: e.Mode})
	}
	c.JSON(http.StatusOK, gin.H{"tenants": out})
}

type validateClaimDTO struct {
	TenantShardID string `json:"tenant_shard_id" binding:"required"`
	Generation    uint32 `json:"generation"`
}

func (h *handlers) validate(c *gin.Context) {
	var req struct {
		Tenants []validateClaimDTO `json:"tenants"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims := make([]service.ValidateClaim, 0, len(req.Tenants))
	for _, t := range req.Tenants {
		id, err := types.ParseTenantShardId(t.TenantShardID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims = append(claims, service.ValidateClaim{TenantShardID: id, Generation: t.Generation})
	}
	results := h.svc.Validate(c.Request.Context(), claims)
	out := make([]gin.H, 0, len(results))
	for _, r := range results {
		out = append(out, gin.H{"tenant_shard_id": r.TenantShardID.String(), "valid": r.Valid})
	}
	c.JSON(http.StatusOK, gin.H{"tenants": out})
}

func (h *handlers) attachHook(c *gin.Context) {
	var req struct {
		TenantShardID string       `json:"tenant_shard_id" binding:"required"`
		NodeID        types.NodeId `json:"node_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := types.ParseTenantShardId(req.TenantShardID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.AttachHook(c.Request.Context(), id, req.NodeID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_shard_id": id.String(), "node_id": req.NodeID})
}

func (h *handlers) inspect(c *gin.Context) {
	idStr := c.Query("tenant_shard_id")
	id, err := types.ParseTenantShardId(idStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sh, ok := h.svc.Shard(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "tenant shard not found"})
		return
	}
	attached, hasAttached := sh.IntentAttached()
	var attachedPtr *types.NodeId
	if hasAttached {
		attachedPtr = &attached
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant_shard_id":    id.String(),
		"intent_attached":    attachedPtr,
		"intent_secondary":   sh.SecondaryNodes(),
		"generation":         sh.GetGeneration().String(),
		"sequence":           sh.Sequence(),
		"split_state":        sh.SplitState,
	})
}
