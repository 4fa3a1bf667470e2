package staking

import (
	"context"

	"github.com/shopspring/decimal"
)

// Epoch 运行时编码版本 (spec_version)，变化后所有调用编码和手续费报价失效
type Epoch uint64

// CallEncoder 把逻辑调用编码成链上字节
// epoch 与当前运行时不一致时必须返回 EncodingError
type CallEncoder interface {
	Encode(ctx context.Context, chain string, calls []Call, epoch Epoch) ([]byte, error)
	CurrentEpoch(ctx context.Context, chain string) (Epoch, error)
}

// Signer 对调用字节签名，返回可广播的交易
// 用户取消、硬件超时、签名类型不支持都返回 SigningError
type Signer interface {
	Sign(ctx context.Context, account AccountKey, call []byte) ([]byte, error)
}

// TxStatusKind 交易池 / 出块状态
type TxStatusKind int

const (
	TxReady TxStatusKind = iota
	TxBroadcast
	TxInBlock
	TxFinalized
	TxRetracted
	TxFinalityTimeout
	TxUsurped
	TxDropped
	TxInvalid
)

var txStatusNames = [...]string{"ready", "broadcast", "in_block", "finalized", "retracted", "finality_timeout", "usurped", "dropped", "invalid"}

func (k TxStatusKind) String() string {
	if int(k) >= 0 && int(k) < len(txStatusNames) {
		return txStatusNames[k]
	}
	return "unknown"
}

// Terminal 之后不会再有状态推送
func (k TxStatusKind) Terminal() bool {
	switch k {
	case TxFinalized, TxFinalityTimeout, TxUsurped, TxDropped, TxInvalid:
		return true
	}
	return false
}

// TxStatus 链上状态通知
// DispatchError 非空表示交易已上链但执行失败
type TxStatus struct {
	Kind          TxStatusKind
	BlockHash     string
	DispatchError string
}

// ChainConnection 广播交易并推送状态，状态通道在终态后关闭
type ChainConnection interface {
	Submit(ctx context.Context, chain string, extrinsic []byte) (txHash string, statuses <-chan TxStatus, err error)
}

// FeeEstimator 对编码后的调用估算手续费 (最小单位)
type FeeEstimator interface {
	EstimateFee(ctx context.Context, account AccountKey, call []byte) (decimal.Decimal, error)
}
