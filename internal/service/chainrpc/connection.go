package chainrpc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"staking-core/internal/staking"
	"staking-core/pkg/crypto_util"
	"staking-core/pkg/errno"
	"staking-core/pkg/logger"
)

var (
	_ staking.ChainConnection = (*Pool)(nil)
	_ staking.FeeEstimator    = (*Pool)(nil)
)

const (
	// 状态通道缓冲，非终态通知在满时丢弃
	statusBuffer = 16
	// 进块和终态最多等这么久被读走
	deliverTimeout = 30 * time.Second
	// 进块后读区块事件的超时
	inspectTimeout = 20 * time.Second
)

// Pool 每条链一个长连接，断开后下次调用时重连
type Pool struct {
	endpoints map[string]string

	mu      sync.Mutex
	clients map[string]*Client
	log     *zap.Logger

	inspector DispatchInspector
}

func NewPool(endpoints map[string]string) *Pool {
	return &Pool{
		endpoints: endpoints,
		clients:   make(map[string]*Client),
		log:       logger.Named("chainrpc"),
	}
}

// InspectWith 进块和最终确认时用 i 检查执行结果，未设置时只报告打包状态
// 必须在第一次 Submit 之前调用
func (p *Pool) InspectWith(i DispatchInspector) {
	p.inspector = i
}

// Client 返回可用连接，已断开的连接会被替换
func (p *Pool) Client(ctx context.Context, chain string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[chain]; ok {
		select {
		case <-c.Done():
			p.log.Info("reconnecting", zap.String("chain", chain))
		default:
			return c, nil
		}
	}
	url, ok := p.endpoints[chain]
	if !ok {
		return nil, errno.Wrapf(errno.ErrConnection, "no rpc endpoint for chain %q", chain)
	}
	c, err := Dial(ctx, url)
	if err != nil {
		return nil, errno.Wrap(errno.ErrConnection, err)
	}
	p.clients[chain] = c
	return c, nil
}

func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for chain, c := range p.clients {
		_ = c.Close()
		delete(p.clients, chain)
	}
}

// Submit author_submitAndWatchExtrinsic，状态按到达顺序推送，终态后关闭
func (p *Pool) Submit(ctx context.Context, chain string, extrinsic []byte) (string, <-chan staking.TxStatus, error) {
	c, err := p.Client(ctx, chain)
	if err != nil {
		return "", nil, err
	}
	sub, err := c.Subscribe(ctx, "author_submitAndWatchExtrinsic", "author_unwatchExtrinsic", codec.HexEncodeToString(extrinsic))
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			// 交易池直接拒绝 (nonce 过低、签名错误、余额不足等)
			return "", nil, errno.Wrap(errno.ErrChainRejected, err)
		}
		return "", nil, errno.Wrap(errno.ErrConnection, err)
	}

	hash := crypto_util.ExtrinsicHash(extrinsic)
	log := p.log.With(zap.String("chain", chain), zap.String("tx_hash", hash))
	out := make(chan staking.TxStatus, statusBuffer)

	go func() {
		defer close(out)
		defer sub.Unsubscribe(context.Background())

		// 进块和终态必须送达，读方离开或连接断开时放弃
		deliver := func(st staking.TxStatus) {
			timer := time.NewTimer(deliverTimeout)
			defer timer.Stop()
			select {
			case out <- st:
			case <-c.Done():
			case <-timer.C:
				log.Warn("status not consumed", zap.Stringer("status", st.Kind))
			}
		}
		inspected := map[string]string{}
		for raw := range sub.C() {
			st, err := parseStatus(raw)
			if err != nil {
				log.Warn("unknown extrinsic status", zap.ByteString("raw", raw), zap.Error(err))
				continue
			}
			if st.Kind == staking.TxInBlock || st.Kind == staking.TxFinalized {
				dispatchErr, ok := inspected[st.BlockHash]
				if !ok {
					dispatchErr = p.inspect(chain, st.BlockHash, extrinsic, log)
					inspected[st.BlockHash] = dispatchErr
				}
				st.DispatchError = dispatchErr
			}
			switch {
			case st.Kind.Terminal():
				deliver(st)
				return
			case st.Kind == staking.TxInBlock:
				deliver(st)
			default:
				select {
				case out <- st:
				default:
					log.Debug("status dropped", zap.Stringer("status", st.Kind))
				}
			}
		}
		log.Warn("status subscription ended without a terminal status")
	}()
	return hash, out, nil
}

// inspect 检查失败时按执行成功处理并告警，交易确实已经进块
func (p *Pool) inspect(chain, blockHash string, extrinsic []byte, log *zap.Logger) string {
	if p.inspector == nil || blockHash == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), inspectTimeout)
	defer cancel()
	dispatchErr, err := p.inspector.DispatchError(ctx, chain, blockHash, extrinsic)
	if err != nil {
		log.Warn("read dispatch result failed", zap.String("block", blockHash), zap.Error(err))
		return ""
	}
	if dispatchErr != "" {
		log.Info("extrinsic failed in block", zap.String("block", blockHash), zap.String("dispatch_error", dispatchErr))
	}
	return dispatchErr
}

// parseStatus TransactionStatus 的 JSON 形式:
// 字符串 "future" / "ready" / "dropped" / "invalid"，或单键对象 {"inBlock": hash}
func parseStatus(raw json.RawMessage) (staking.TxStatus, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		switch name {
		case "future", "ready":
			return staking.TxStatus{Kind: staking.TxReady}, nil
		case "dropped":
			return staking.TxStatus{Kind: staking.TxDropped}, nil
		case "invalid":
			return staking.TxStatus{Kind: staking.TxInvalid}, nil
		}
		return staking.TxStatus{}, fmt.Errorf("unknown status %q", name)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return staking.TxStatus{}, err
	}
	blockHash := func(v json.RawMessage) string {
		var h string
		_ = json.Unmarshal(v, &h)
		return h
	}
	for k, v := range obj {
		switch k {
		case "broadcast":
			return staking.TxStatus{Kind: staking.TxBroadcast}, nil
		case "inBlock":
			return staking.TxStatus{Kind: staking.TxInBlock, BlockHash: blockHash(v)}, nil
		case "retracted":
			return staking.TxStatus{Kind: staking.TxRetracted, BlockHash: blockHash(v)}, nil
		case "finalityTimeout":
			return staking.TxStatus{Kind: staking.TxFinalityTimeout, BlockHash: blockHash(v)}, nil
		case "finalized":
			return staking.TxStatus{Kind: staking.TxFinalized, BlockHash: blockHash(v)}, nil
		case "usurped":
			return staking.TxStatus{Kind: staking.TxUsurped}, nil
		}
	}
	return staking.TxStatus{}, fmt.Errorf("unknown status object %s", string(raw))
}

// RuntimeDispatchInfo (weight v2)
type dispatchInfo struct {
	Weight struct {
		RefTime   types.UCompact
		ProofSize types.UCompact
	}
	Class      types.U8
	PartialFee types.U128
}

// EstimateFee TransactionPaymentCallApi_query_call_info(call, len)
func (p *Pool) EstimateFee(ctx context.Context, account staking.AccountKey, call []byte) (decimal.Decimal, error) {
	c, err := p.Client(ctx, account.Chain)
	if err != nil {
		return decimal.Zero, err
	}
	arg := make([]byte, len(call)+4)
	copy(arg, call)
	binary.LittleEndian.PutUint32(arg[len(call):], uint32(len(call)))

	var res string
	if err := c.Call(ctx, &res, "state_call", "TransactionPaymentCallApi_query_call_info", codec.HexEncodeToString(arg)); err != nil {
		return decimal.Zero, errno.Wrap(errno.ErrFeeEstimation, err)
	}
	var info dispatchInfo
	if err := codec.DecodeFromHex(res, &info); err != nil {
		return decimal.Zero, errno.Wrap(errno.ErrFeeEstimation, err)
	}
	if info.PartialFee.Int == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromBigInt(info.PartialFee.Int, 0), nil
}

// SigningContext 签名需要的链上参数
type SigningContext struct {
	Nonce              uint64
	SpecVersion        uint32
	TransactionVersion uint32
	GenesisHash        []byte
}

type runtimeVersion struct {
	SpecVersion        uint32 `json:"specVersion"`
	TransactionVersion uint32 `json:"transactionVersion"`
}

func (p *Pool) runtimeVersion(ctx context.Context, chain string) (runtimeVersion, error) {
	var rv runtimeVersion
	c, err := p.Client(ctx, chain)
	if err != nil {
		return rv, err
	}
	if err := c.Call(ctx, &rv, "state_getRuntimeVersion"); err != nil {
		return rv, errno.Wrap(errno.ErrConnection, err)
	}
	return rv, nil
}

func (p *Pool) SigningContext(ctx context.Context, account staking.AccountKey) (SigningContext, error) {
	var sc SigningContext
	c, err := p.Client(ctx, account.Chain)
	if err != nil {
		return sc, err
	}
	if err := c.Call(ctx, &sc.Nonce, "system_accountNextIndex", account.Account); err != nil {
		return sc, errno.Wrap(errno.ErrConnection, err)
	}
	rv, err := p.runtimeVersion(ctx, account.Chain)
	if err != nil {
		return sc, err
	}
	sc.SpecVersion, sc.TransactionVersion = rv.SpecVersion, rv.TransactionVersion

	var genesis string
	if err := c.Call(ctx, &genesis, "chain_getBlockHash", 0); err != nil {
		return sc, errno.Wrap(errno.ErrConnection, err)
	}
	if sc.GenesisHash, err = codec.HexDecodeString(genesis); err != nil {
		return sc, errno.Wrap(errno.ErrConnection, err)
	}
	return sc, nil
}
