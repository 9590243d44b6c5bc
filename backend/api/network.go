package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (r *Router) getSystemProxy(c *gin.Context) {
	current, err := r.service.SystemProxyStatus(c.Request.Context())
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"desired": r.service.Settings().SystemProxyEnabled,
		"enabled": current.Enabled(),
		"current": current,
	})
}

func (r *Router) setSystemProxy(c *gin.Context) {
	enabled, ok := bindToggle(c)
	if !ok {
		return
	}
	if err := r.service.SetSystemProxy(detached(c), enabled); err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

func (r *Router) getTun(c *gin.Context) {
	resp := gin.H{
		"desired": r.service.Settings().TunEnabled,
		"state":   r.service.Status().Interface,
	}
	if desc, err := r.service.InterfaceDescriptor(); err == nil {
		resp["descriptor"] = desc
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) setTun(c *gin.Context) {
	enabled, ok := bindToggle(c)
	if !ok {
		return
	}
	if err := r.service.SetVirtualInterface(detached(c), enabled); err != nil {
		r.handleError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (r *Router) restartTun(c *gin.Context) {
	if err := r.service.RestartInterface(detached(c)); err != nil {
		r.handleError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (r *Router) queryTun(c *gin.Context) {
	reply, err := r.service.InterfaceQuery()
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}
