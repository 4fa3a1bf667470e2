package server

import (
	"staking-core/internal/handler"
	"staking-core/internal/handler/response"
	"staking-core/internal/server/routes"
	"staking-core/pkg/monitor"
	"staking-core/pkg/validator"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPRouter 初始化并返回一个 Gin Engine
func NewHTTPRouter(health *handler.HealthCheck, staking *handler.StakingHandler) *gin.Engine {
	// 0. 初始化监控指标和自定义校验
	monitor.Init()
	validator.Init()

	// 1. 创建 Engine (使用默认中间件: Logger, Recovery)
	r := gin.Default()

	// 2. 注册通用中间件
	r.Use(monitor.PrometheusMiddleware())

	// 3. 注册基础路由
	r.GET("/health", health.Handle)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 4. 注册 API 路由组
	api := r.Group("/api/v1")
	{
		api.GET("/ping", func(c *gin.Context) {
			response.Success(c, gin.H{"pong": true})
		})
		routes.RegisterStakingRoutes(api, staking)
	}

	return r
}
