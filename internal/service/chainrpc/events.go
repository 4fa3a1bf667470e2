package chainrpc

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/centrifuge/go-substrate-rpc-client/v4/registry"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry/parser"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"go.uber.org/zap"

	"staking-core/internal/staking"
	"staking-core/pkg/errno"
)

const extrinsicFailed = "System.ExtrinsicFailed"

// DispatchInspector 交易进块后检查执行结果，返回空字符串表示执行成功
type DispatchInspector interface {
	DispatchError(ctx context.Context, chain, blockHash string, extrinsic []byte) (string, error)
}

var _ DispatchInspector = (*MetadataEncoder)(nil)

type signedBlock struct {
	Block struct {
		Extrinsics []string `json:"extrinsics"`
	} `json:"block"`
}

// DispatchError 读区块里的 System.Events，找出该交易对应的 ExtrinsicFailed
// 元数据和事件注册表按区块所在的运行时版本缓存
func (e *MetadataEncoder) DispatchError(ctx context.Context, chain, blockHash string, extrinsic []byte) (string, error) {
	c, err := e.pool.Client(ctx, chain)
	if err != nil {
		return "", err
	}
	var block signedBlock
	if err := c.Call(ctx, &block, "chain_getBlock", blockHash); err != nil {
		return "", errno.Wrap(errno.ErrConnection, err)
	}
	index, ok := extrinsicIndex(block.Block.Extrinsics, extrinsic)
	if !ok {
		return "", fmt.Errorf("extrinsic not found in block %s", blockHash)
	}

	var rv runtimeVersion
	if err := c.Call(ctx, &rv, "state_getRuntimeVersion", blockHash); err != nil {
		return "", errno.Wrap(errno.ErrConnection, err)
	}
	epoch := staking.Epoch(rv.SpecVersion)
	meta, err := e.metadataAt(ctx, chain, epoch, blockHash)
	if err != nil {
		return "", err
	}
	reg, err := e.eventRegistry(chain, epoch, meta)
	if err != nil {
		return "", err
	}

	key, err := types.CreateStorageKey(meta, "System", "Events")
	if err != nil {
		return "", errno.Wrap(errno.ErrEncoding, err)
	}
	var raw string
	if err := c.Call(ctx, &raw, "state_getStorage", key.Hex(), blockHash); err != nil {
		return "", errno.Wrap(errno.ErrConnection, err)
	}
	data, err := codec.HexDecodeString(raw)
	if err != nil {
		return "", err
	}
	sd := types.StorageDataRaw(data)
	events, err := parser.NewEventParser().ParseEvents(reg, &sd)
	if err != nil {
		return "", errno.Wrap(errno.ErrEncoding, err)
	}
	return dispatchFailure(events, index), nil
}

func (e *MetadataEncoder) eventRegistry(chain string, epoch staking.Epoch, meta *types.Metadata) (registry.EventRegistry, error) {
	key := fmt.Sprintf("%s@%d", chain, epoch)
	if reg, ok := e.events.Get(key); ok {
		return reg, nil
	}
	// factory 内部有状态，每次新建
	reg, err := registry.NewFactory().CreateEventRegistry(meta)
	if err != nil {
		return nil, errno.Wrap(errno.ErrEncoding, err)
	}
	e.events.Add(key, reg)
	e.log.Debug("event registry built", zap.String("chain", chain), zap.Uint64("epoch", uint64(epoch)))
	return reg, nil
}

// extrinsicIndex 交易在区块里的位置
func extrinsicIndex(extrinsics []string, extrinsic []byte) (uint32, bool) {
	want := codec.HexEncodeToString(extrinsic)
	for i, x := range extrinsics {
		if strings.EqualFold(x, want) {
			return uint32(i), true
		}
	}
	return 0, false
}

// dispatchFailure 只看 ApplyExtrinsic 阶段属于 index 的事件
func dispatchFailure(events []*parser.Event, index uint32) string {
	for _, ev := range events {
		if ev == nil || ev.Name != extrinsicFailed {
			continue
		}
		if ev.Phase == nil || !ev.Phase.IsApplyExtrinsic || ev.Phase.AsApplyExtrinsic != index {
			continue
		}
		for _, f := range ev.Fields {
			if strings.HasSuffix(f.Name, "dispatch_error") {
				return describe(f.Value)
			}
		}
		return describe(ev.Fields)
	}
	return ""
}

// describe 把解码后的嵌套字段转成可读字符串，例如 {index: 7, error: [5 0 0 0]}
func describe(v any) string {
	switch x := v.(type) {
	case registry.DecodedFields:
		parts := make([]string, 0, len(x))
		for _, f := range x {
			name := f.Name
			if i := strings.LastIndex(name, "."); i >= 0 {
				name = name[i+1:]
			}
			parts = append(parts, name+": "+describe(f.Value))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+describe(x[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			parts = append(parts, describe(item))
		}
		return "[" + strings.Join(parts, " ") + "]"
	case nil:
		return "failed"
	default:
		return fmt.Sprint(x)
	}
}
