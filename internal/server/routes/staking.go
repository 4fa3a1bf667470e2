package routes

import (
	"staking-core/internal/handler"

	"github.com/gin-gonic/gin"
)

func RegisterStakingRoutes(rg *gin.RouterGroup, h *handler.StakingHandler) {
	stakingGroup := rg.Group("/staking/:chain/:program/:account")
	{
		stakingGroup.GET("", h.GetSnapshot)
		stakingGroup.POST("/claim", h.ClaimRewards)
		stakingGroup.POST("/redeem", h.Redeem)
		stakingGroup.POST("/bond_extra", h.BondExtra)
		stakingGroup.POST("/unbond", h.Unbond)
	}

	rg.GET("/accounts/:chain/:account", h.ListSnapshots)
	rg.POST("/facts", h.IngestFact)
}
