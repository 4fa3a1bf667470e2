package handler

import (
	"staking-core/internal/handler/response"

	"github.com/gin-gonic/gin"
)

// HealthCheck 存活检查，同时报告正在运行的事实队列和进行中的提交数
type HealthCheck struct {
	Pipes    func() int
	InFlight func() int
}

func (h *HealthCheck) Handle(c *gin.Context) {
	data := gin.H{
		"status":  "UP",
		"version": "1.0.0",
		"service": "staking-worker",
	}
	if h.Pipes != nil {
		data["pipes"] = h.Pipes()
	}
	if h.InFlight != nil {
		data["in_flight"] = h.InFlight()
	}
	response.Success(c, data)
}
