package chainrpc

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/centrifuge/go-substrate-rpc-client/v4/registry"
	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"staking-core/internal/staking"
	"staking-core/pkg/errno"
	"staking-core/pkg/logger"
)

var _ staking.CallEncoder = (*MetadataEncoder)(nil)

// 每条链保留最近几个运行时版本的元数据
const metadataCacheSize = 8

// MetadataEncoder 按链上元数据把逻辑调用编码成 SCALE 字节
// 多个调用用 Utility.batch_all 打包
type MetadataEncoder struct {
	pool   *Pool
	metas  *lru.Cache[string, *types.Metadata]
	events *lru.Cache[string, registry.EventRegistry]
	log    *zap.Logger
}

func NewMetadataEncoder(pool *Pool) (*MetadataEncoder, error) {
	metas, err := lru.New[string, *types.Metadata](metadataCacheSize)
	if err != nil {
		return nil, err
	}
	events, err := lru.New[string, registry.EventRegistry](metadataCacheSize)
	if err != nil {
		return nil, err
	}
	return &MetadataEncoder{pool: pool, metas: metas, events: events, log: logger.Named("chainrpc.encoder")}, nil
}

// CurrentEpoch 运行时 specVersion
func (e *MetadataEncoder) CurrentEpoch(ctx context.Context, chain string) (staking.Epoch, error) {
	rv, err := e.pool.runtimeVersion(ctx, chain)
	if err != nil {
		return 0, err
	}
	return staking.Epoch(rv.SpecVersion), nil
}

func (e *MetadataEncoder) metadata(ctx context.Context, chain string, epoch staking.Epoch) (*types.Metadata, error) {
	return e.metadataAt(ctx, chain, epoch, "")
}

// metadataAt blockHash 为空时取最新区块的元数据
func (e *MetadataEncoder) metadataAt(ctx context.Context, chain string, epoch staking.Epoch, blockHash string) (*types.Metadata, error) {
	key := chain + "@" + strconv.FormatUint(uint64(epoch), 10)
	if m, ok := e.metas.Get(key); ok {
		return m, nil
	}
	c, err := e.pool.Client(ctx, chain)
	if err != nil {
		return nil, err
	}
	params := []any{}
	if blockHash != "" {
		params = append(params, blockHash)
	}
	var raw string
	if err := c.Call(ctx, &raw, "state_getMetadata", params...); err != nil {
		return nil, errno.Wrap(errno.ErrConnection, err)
	}
	var meta types.Metadata
	if err := codec.DecodeFromHex(raw, &meta); err != nil {
		return nil, errno.Wrap(errno.ErrEncoding, err)
	}
	e.metas.Add(key, &meta)
	e.log.Info("metadata loaded", zap.String("chain", chain), zap.Uint64("epoch", uint64(epoch)))
	return &meta, nil
}

// Encode epoch 与链上当前运行时不一致时拒绝编码
func (e *MetadataEncoder) Encode(ctx context.Context, chain string, calls []staking.Call, epoch staking.Epoch) ([]byte, error) {
	if len(calls) == 0 {
		return nil, errno.Wrapf(errno.ErrEncoding, "no calls")
	}
	current, err := e.CurrentEpoch(ctx, chain)
	if err != nil {
		return nil, err
	}
	if current != epoch {
		return nil, errno.Wrapf(errno.ErrEncoding, "runtime changed: encoding for %d, chain at %d", epoch, current)
	}
	meta, err := e.metadata(ctx, chain, epoch)
	if err != nil {
		return nil, err
	}
	return EncodeCalls(meta, calls)
}

// EncodeCalls 单个调用直接编码，多个调用包进 Utility.batch_all
func EncodeCalls(meta *types.Metadata, calls []staking.Call) ([]byte, error) {
	built := make([]types.Call, 0, len(calls))
	for _, call := range calls {
		c, err := buildCall(meta, call)
		if err != nil {
			return nil, err
		}
		built = append(built, c)
	}
	out := built[0]
	if len(built) > 1 {
		batch, err := types.NewCall(meta, "Utility.batch_all", built)
		if err != nil {
			return nil, errno.Wrap(errno.ErrEncoding, err)
		}
		out = batch
	}
	bz, err := codec.Encode(out)
	if err != nil {
		return nil, errno.Wrap(errno.ErrEncoding, err)
	}
	return bz, nil
}

func buildCall(meta *types.Metadata, call staking.Call) (types.Call, error) {
	args := make([]any, 0, len(call.Args))
	for _, a := range call.Args {
		v, err := scaleArg(a.Value)
		if err != nil {
			return types.Call{}, errno.Wrapf(errno.ErrEncoding, "%s.%s %s: %v", call.Module, call.Function, a.Name, err)
		}
		args = append(args, v)
	}
	c, err := types.NewCall(meta, call.Module+"."+call.Function, args...)
	if err != nil {
		return types.Call{}, errno.Wrap(errno.ErrEncoding, err)
	}
	return c, nil
}

// variantArg 枚举: 索引字节 + 载荷
type variantArg struct {
	index uint8
	inner any
}

func (v variantArg) Encode(encoder scale.Encoder) error {
	if err := encoder.PushByte(v.index); err != nil {
		return err
	}
	if v.inner == nil {
		return nil
	}
	return encoder.Encode(v.inner)
}

func scaleArg(v any) (any, error) {
	switch x := v.(type) {
	case staking.Compact:
		if x.IsNegative() {
			return nil, fmt.Errorf("negative compact %s", x)
		}
		return types.NewUCompact(x.BigInt()), nil
	case staking.U128:
		if x.IsNegative() {
			return nil, fmt.Errorf("negative u128 %s", x)
		}
		return types.NewU128(*x.BigInt()), nil
	case uint32:
		return types.NewU32(x), nil
	case staking.AccountArg:
		b, err := accountBytes(string(x))
		if err != nil {
			return nil, err
		}
		return types.NewMultiAddressFromAccountID(b)
	case staking.RawAccount:
		b, err := accountBytes(string(x))
		if err != nil {
			return nil, err
		}
		if len(b) == 20 {
			// Mythos 等以太坊风格账户
			var id [20]byte
			copy(id[:], b)
			return id, nil
		}
		return types.NewAccountID(b)
	case staking.Variant:
		inner, err := scaleArg(x.Value)
		if err != nil {
			return nil, err
		}
		return variantArg{index: x.Index, inner: inner}, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported argument type %T", v)
	}
}

// accountBytes 账户以 0x 十六进制公钥表示 (32 字节或 20 字节)
func accountBytes(account string) ([]byte, error) {
	if !strings.HasPrefix(account, "0x") {
		return nil, fmt.Errorf("account %q is not hex encoded", account)
	}
	b, err := codec.HexDecodeString(account)
	if err != nil {
		return nil, err
	}
	if len(b) != 32 && len(b) != 20 {
		return nil, fmt.Errorf("account %q has %d bytes", account, len(b))
	}
	return b, nil
}
