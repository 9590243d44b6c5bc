package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"secureproxy/backend/domain"
	"secureproxy/backend/repository"
	"secureproxy/backend/service"
)

type Router struct {
	service *service.Facade
}

func NewRouter(svc *service.Facade) *gin.Engine {
	r := &Router{service: svc}
	engine := gin.New()
	engine.Use(gin.Recovery())
	r.register(engine)
	return engine
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func (r *Router) register(engine *gin.Engine) {
	engine.Use(corsMiddleware())
	engine.Use(metricsMiddleware())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now()})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	configs := engine.Group("/configs")
	{
		configs.GET("", r.listConfigs)
		configs.POST("", r.saveConfig)
		configs.GET("/active", r.getActiveConfig)
		configs.PUT("/active", r.switchConfig)
		configs.GET("/:name", r.getConfig)
		configs.PATCH("/:name", r.patchConfig)
		configs.DELETE("/:name", r.deleteConfig)
	}

	proxy := engine.Group("/proxy")
	{
		proxy.GET("/status", r.getProxyStatus)
		proxy.POST("/start", r.startProxy)
		proxy.POST("/stop", r.stopProxy)
		proxy.POST("/toggle", r.toggleProxy)
		proxy.GET("/logs", r.getProxyLogs)
		proxy.GET("/engine/logs", r.getEngineLogs)
		proxy.GET("/events", r.streamStatus)
		proxy.GET("/probe", r.probeProxy)
	}

	engine.GET("/system-proxy", r.getSystemProxy)
	engine.PUT("/system-proxy", r.setSystemProxy)

	tun := engine.Group("/tun")
	{
		tun.GET("", r.getTun)
		tun.PUT("", r.setTun)
		tun.POST("/restart", r.restartTun)
		tun.GET("/query", r.queryTun)
	}

	engine.GET("/app/logs", r.getAppLogs)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (r *Router) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrInvalidData), errors.Is(err, domain.ErrInvalidConfig):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrConfigNotFound), errors.Is(err, repository.ErrNotFound),
		errors.Is(err, domain.ErrDescriptorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNoActiveConfig), errors.Is(err, domain.ErrEngineAlreadyRunning),
		errors.Is(err, domain.ErrEngineNotRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// querySince 解析 ?since=，缺省为 0
func querySince(c *gin.Context) (int64, bool) {
	raw := c.Query("since")
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		badRequest(c, errors.New("invalid 'since' parameter: must be a non-negative integer"))
		return 0, false
	}
	return v, true
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func bindToggle(c *gin.Context) (bool, bool) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return false, false
	}
	if req.Enabled == nil {
		badRequest(c, errors.New("missing 'enabled' field"))
		return false, false
	}
	return *req.Enabled, true
}
