package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (r *Router) getAppLogs(c *gin.Context) {
	since, ok := querySince(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, r.service.AppLogs(since))
}

func (r *Router) getEngineLogs(c *gin.Context) {
	since, ok := querySince(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, r.service.EngineLogs(since))
}

// getProxyLogs 聚合日志（按序号增量读取）
func (r *Router) getProxyLogs(c *gin.Context) {
	since, ok := querySince(c)
	if !ok {
		return
	}
	entries := r.service.Logs(uint64(since))
	next := uint64(since)
	if n := len(entries); n > 0 {
		next = entries[n-1].Seq
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "next": next})
}
