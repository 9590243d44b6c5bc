package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"secureproxy/backend/domain"
)

func (r *Router) listConfigs(c *gin.Context) {
	items, err := r.service.ListConfigs(c.Request.Context())
	if err != nil {
		r.handleError(c, err)
		return
	}
	if items == nil {
		items = []domain.ProxyConfig{}
	}
	c.JSON(http.StatusOK, gin.H{"configs": items, "active": r.service.Settings().ActiveConfig})
}

func (r *Router) getConfig(c *gin.Context) {
	cfg, err := r.service.GetConfig(c.Request.Context(), c.Param("name"))
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (r *Router) saveConfig(c *gin.Context) {
	var req domain.ProxyConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	saved, err := r.service.SaveConfig(c.Request.Context(), req)
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (r *Router) patchConfig(c *gin.Context) {
	var patch domain.ProxyConfig
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	updated, err := r.service.UpdateConfig(c.Request.Context(), c.Param("name"), patch)
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (r *Router) deleteConfig(c *gin.Context) {
	if err := r.service.DeleteConfig(c.Request.Context(), c.Param("name")); err != nil {
		r.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Router) getActiveConfig(c *gin.Context) {
	cfg, err := r.service.ActiveConfig(c.Request.Context())
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (r *Router) switchConfig(c *gin.Context) {
	var req struct {
		Name *string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Name == nil {
		badRequest(c, errors.New("missing 'name' field"))
		return
	}
	if err := r.service.SwitchConfig(c.Request.Context(), *req.Name); err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, r.service.Status())
}
