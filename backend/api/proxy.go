package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"secureproxy/backend/domain"
	"secureproxy/backend/repository/events"
)

// Proxy handlers

// 引擎生命周期与 HTTP 请求无关，请求结束不能打断启动流程
func detached(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (r *Router) getProxyStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.service.Status())
}

func (r *Router) startProxy(c *gin.Context) {
	if err := r.service.StartProxy(detached(c)); err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, r.service.Status())
}

func (r *Router) stopProxy(c *gin.Context) {
	if err := r.service.StopProxy(detached(c)); err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, r.service.Status())
}

func (r *Router) toggleProxy(c *gin.Context) {
	if err := r.service.ToggleRun(detached(c)); err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, r.service.Status())
}

// probeProxy 对运行中的引擎做一次 SOCKS5 握手；引擎在但不应答时返回 502
func (r *Router) probeProxy(c *gin.Context) {
	res, err := r.service.ProbeEngine(c.Request.Context())
	if err != nil {
		if errors.Is(err, domain.ErrEngineNotRunning) {
			r.handleError(c, err)
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"addr": res.Addr, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

const sseKeepalive = 30 * time.Second

// changeEvent 配置/设置变化的 SSE 负载；配置内容（含密钥）不推送，UI 按名称重新拉取
type changeEvent struct {
	Type     events.EventType `json:"type"`
	Name     string           `json:"name,omitempty"`
	Settings *domain.Settings `json:"settings,omitempty"`
}

// streamStatus 以 SSE 推送节流后的状态（event: status）以及配置/设置变化
// （event: config / settings）；连接建立时先推一次当前状态
func (r *Router) streamStatus(c *gin.Context) {
	ch, cancel := r.service.SubscribeStatus(16)
	defer cancel()
	changes, cancelChanges := r.service.SubscribeChanges(16)
	defer cancelChanges()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	send := func(name string, v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			return false
		}
		c.SSEvent(name, string(data))
		c.Writer.Flush()
		return true
	}
	if !send("status", r.service.Status()) {
		return
	}

	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case <-ticker.C:
			c.SSEvent("ping", "keepalive")
			c.Writer.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if se, ok := ev.(events.StatusEvent); ok {
				if !send("status", se.Status) {
					return
				}
			}
		case ev, ok := <-changes:
			if !ok {
				return
			}
			var sent bool
			switch e := ev.(type) {
			case events.ConfigEvent:
				sent = send("config", changeEvent{Type: e.EventType, Name: e.Name})
			case events.SettingsEvent:
				sent = send("settings", changeEvent{Type: e.EventType, Settings: &e.Settings})
			default:
				continue
			}
			if !sent {
				return
			}
		}
	}
}
