package event

import (
	"encoding/json"
	"time"
)

// 事实编码方式
const (
	EncodingJSON  = "json"
	EncodingSCALE = "scale"
)

// FactEvent 链上事实增量
// Topic: staking_facts, 分区键: chain:account (同一账户保序)
type FactEvent struct {
	Account string `json:"account"`
	Chain   string `json:"chain"`
	// 空或 "any" 表示该 (账户, 链) 的所有质押方式
	Program string `json:"program,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
	Kind    string `json:"kind"`
	// json (默认) 或 scale
	Encoding string `json:"encoding,omitempty"`
	// Encoding == json 时的增量体
	Payload json.RawMessage `json:"payload,omitempty"`
	// Encoding == scale 时的存储值 (0x 十六进制)
	Data string `json:"data,omitempty"`
}

// SnapshotEvent 状态重建后的快照
// Topic: staking_snapshots
type SnapshotEvent struct {
	Account       string          `json:"account"`
	Chain         string          `json:"chain"`
	Program       string          `json:"program"`
	Version       uint64          `json:"version"`
	Informational bool            `json:"informational,omitempty"`
	State         string          `json:"state"`
	Status        string          `json:"status"`
	Snapshot      json.RawMessage `json:"snapshot"`
	BuiltAt       time.Time       `json:"built_at"`
}

// OutcomeEvent 提交终态
// Topic: staking_outcomes
type OutcomeEvent struct {
	ID        string `json:"id"`
	Account   string `json:"account"`
	Chain     string `json:"chain"`
	Program   string `json:"program"`
	Operation string `json:"operation"`
	Success   bool   `json:"success"`
	Phase     string `json:"phase"`
	TxHash    string `json:"tx_hash,omitempty"`
	BlockHash string `json:"block_hash,omitempty"`
	Code      int    `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// RefreshRequestedEvent 请求上游重新拉取奖励 / 过期事实
// Topic: staking_refresh
type RefreshRequestedEvent struct {
	Account string   `json:"account"`
	Chain   string   `json:"chain"`
	Program string   `json:"program"`
	Kinds   []string `json:"kinds"`
	Reason  string   `json:"reason"`
}
