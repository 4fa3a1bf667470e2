package request

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// StakingURI /api/v1/staking/:chain/:program/:account
type StakingURI struct {
	Chain   string `uri:"chain" binding:"required,max=64"`
	Program string `uri:"program" binding:"required,staking_program"`
	Account string `uri:"account" binding:"required,hex_account"`
}

// AccountURI /api/v1/accounts/:chain/:account
type AccountURI struct {
	Chain   string `uri:"chain" binding:"required,max=64"`
	Account string `uri:"account" binding:"required,hex_account"`
}

type ClaimRewardsRequest struct {
	// 只对提名池有效，默认 restake
	Strategy string `json:"strategy" binding:"omitempty,oneof=restake free"`
	// 确认后跳过警告 (例如手续费高于奖励)
	AcceptWarnings bool `json:"accept_warnings"`
}

type RedeemRequest struct {
	AcceptWarnings bool `json:"accept_warnings"`
}

type AmountRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
	// 平行链委托 / Mythos 需要
	Collator       string `json:"collator" binding:"omitempty,hex_account"`
	AcceptWarnings bool   `json:"accept_warnings"`
}

// FactRequest 手动注入一条事实，格式与 MQ 中的 FactEvent 一致
type FactRequest struct {
	Account  string          `json:"account" binding:"required,hex_account"`
	Chain    string          `json:"chain" binding:"required,max=64"`
	Program  string          `json:"program" binding:"omitempty,oneof=any direct pool parachain mythos"`
	Seq      uint64          `json:"seq"`
	Kind     string          `json:"kind" binding:"required"`
	Encoding string          `json:"encoding" binding:"omitempty,oneof=json scale"`
	Payload  json.RawMessage `json:"payload"`
	Data     string          `json:"data"`
}
