package chainrpc

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-core/internal/staking"
	"staking-core/pkg/errno"
)

type rpcRequest struct {
	ID     uint64            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// reply 一次响应，notify 是响应之后推送的订阅通知
type reply struct {
	result any
	err    *RPCError
	notify []any
	// 回复后断开连接
	hangup bool
}

// fakeNode 一个按方法名应答的 JSON-RPC 节点
type fakeNode struct {
	mu       sync.Mutex
	handlers map[string]func(params []json.RawMessage) reply
	calls    []string
}

func (n *fakeNode) handle(method string, fn func(params []json.RawMessage) reply) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.handlers == nil {
		n.handlers = make(map[string]func([]json.RawMessage) reply)
	}
	n.handlers[method] = fn
}

func (n *fakeNode) called(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, m := range n.calls {
		if m == method {
			count++
		}
	}
	return count
}

func (n *fakeNode) serve(t *testing.T) *httptest.Server {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			n.mu.Lock()
			n.calls = append(n.calls, req.Method)
			fn, ok := n.handlers[req.Method]
			n.mu.Unlock()

			rep := reply{err: &RPCError{Code: -32601, Message: "Method not found"}}
			if ok {
				rep = fn(req.Params)
			}
			if rep.hangup {
				return
			}
			resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
			if rep.err != nil {
				resp["error"] = rep.err
			} else {
				resp["result"] = rep.result
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
			for _, note := range rep.notify {
				if err := conn.WriteJSON(note); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func extrinsicUpdate(sub string, result any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"method":  "author_extrinsicUpdate",
		"params":  map[string]any{"subscription": sub, "result": result},
	}
}

func newPool(t *testing.T, node *fakeNode) *Pool {
	ts := node.serve(t)
	p := NewPool(map[string]string{"polkadot": ts.URL})
	t.Cleanup(p.Close)
	return p
}

func TestCall(t *testing.T) {
	node := &fakeNode{}
	node.handle("system_accountNextIndex", func(params []json.RawMessage) reply {
		return reply{result: 7}
	})
	ts := node.serve(t)

	c, err := Dial(context.Background(), ts.URL)
	require.NoError(t, err)
	defer c.Close()

	var nonce uint64
	require.NoError(t, c.Call(context.Background(), &nonce, "system_accountNextIndex", "0x01"))
	assert.Equal(t, uint64(7), nonce)

	err = c.Call(context.Background(), nil, "nope")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestCallFailsWhenConnectionDrops(t *testing.T) {
	node := &fakeNode{}
	node.handle("state_getMetadata", func(params []json.RawMessage) reply {
		return reply{hangup: true}
	})
	ts := node.serve(t)

	c, err := Dial(context.Background(), ts.URL)
	require.NoError(t, err)

	err = c.Call(context.Background(), nil, "state_getMetadata")
	assert.ErrorIs(t, err, ErrClosed)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client not closed")
	}
	assert.ErrorIs(t, c.Call(context.Background(), nil, "state_getMetadata"), ErrClosed)
}

func TestSubmitStreamsStatuses(t *testing.T) {
	node := &fakeNode{}
	node.handle("author_submitAndWatchExtrinsic", func(params []json.RawMessage) reply {
		return reply{result: "sub-1", notify: []any{
			extrinsicUpdate("sub-1", "ready"),
			extrinsicUpdate("sub-1", map[string]any{"broadcast": []string{"peer"}}),
			extrinsicUpdate("sub-1", map[string]any{"inBlock": "0xaa"}),
			extrinsicUpdate("sub-1", map[string]any{"finalized": "0xaa"}),
		}}
	})
	node.handle("author_unwatchExtrinsic", func(params []json.RawMessage) reply {
		return reply{result: true}
	})
	p := newPool(t, node)

	ext := []byte{0x01, 0x02}
	hash, statuses, err := p.Submit(context.Background(), "polkadot", ext)
	require.NoError(t, err)
	assert.Len(t, hash, 66)

	var kinds []staking.TxStatusKind
	var last staking.TxStatus
	for st := range statuses {
		kinds = append(kinds, st.Kind)
		last = st
	}
	assert.Equal(t, []staking.TxStatusKind{staking.TxReady, staking.TxBroadcast, staking.TxInBlock, staking.TxFinalized}, kinds)
	assert.Equal(t, "0xaa", last.BlockHash)

	assert.Eventually(t, func() bool { return node.called("author_unwatchExtrinsic") == 1 }, time.Second, 10*time.Millisecond)
}

func TestSubmitRejectedByPool(t *testing.T) {
	node := &fakeNode{}
	node.handle("author_submitAndWatchExtrinsic", func(params []json.RawMessage) reply {
		return reply{err: &RPCError{Code: 1010, Message: "Invalid Transaction", Data: json.RawMessage(`"Inability to pay some fees"`)}}
	})
	p := newPool(t, node)

	_, _, err := p.Submit(context.Background(), "polkadot", []byte{0x01})
	assert.ErrorIs(t, err, errno.ErrChainRejected)

	_, _, err = p.Submit(context.Background(), "kusama", []byte{0x01})
	assert.ErrorIs(t, err, errno.ErrConnection)
}

func TestParseStatus(t *testing.T) {
	cases := []struct {
		raw  string
		kind staking.TxStatusKind
	}{
		{`"future"`, staking.TxReady},
		{`"dropped"`, staking.TxDropped},
		{`"invalid"`, staking.TxInvalid},
		{`{"retracted":"0x01"}`, staking.TxRetracted},
		{`{"finalityTimeout":"0x01"}`, staking.TxFinalityTimeout},
		{`{"usurped":"0x02"}`, staking.TxUsurped},
	}
	for _, c := range cases {
		st, err := parseStatus(json.RawMessage(c.raw))
		require.NoError(t, err, c.raw)
		assert.Equal(t, c.kind, st.Kind, c.raw)
	}

	_, err := parseStatus(json.RawMessage(`"pending"`))
	assert.Error(t, err)
	_, err = parseStatus(json.RawMessage(`{"weird":1}`))
	assert.Error(t, err)
}

func TestEstimateFee(t *testing.T) {
	var info dispatchInfo
	info.Weight.RefTime = types.NewUCompactFromUInt(1000)
	info.Weight.ProofSize = types.NewUCompactFromUInt(10)
	info.PartialFee = types.NewU128(*big.NewInt(15_000_000))
	encoded, err := codec.EncodeToHex(info)
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		gotArg string
	)
	node := &fakeNode{}
	node.handle("state_call", func(params []json.RawMessage) reply {
		mu.Lock()
		defer mu.Unlock()
		if len(params) == 2 {
			_ = json.Unmarshal(params[1], &gotArg)
		}
		return reply{result: encoded}
	})
	p := newPool(t, node)

	amount, err := p.EstimateFee(context.Background(), staking.AccountKey{Account: "0x01", Chain: "polkadot"}, []byte{0xab, 0xcd})
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.NewFromInt(15_000_000)))
	// call ++ u32le(len)
	mu.Lock()
	assert.Equal(t, "0xabcd02000000", gotArg)
	mu.Unlock()
}

func TestSigningContext(t *testing.T) {
	node := &fakeNode{}
	node.handle("system_accountNextIndex", func(params []json.RawMessage) reply { return reply{result: 3} })
	node.handle("state_getRuntimeVersion", func(params []json.RawMessage) reply {
		return reply{result: map[string]any{"specVersion": 1002000, "transactionVersion": 26}}
	})
	node.handle("chain_getBlockHash", func(params []json.RawMessage) reply {
		return reply{result: "0x91b171bb158e2d3848fa23a9f1c25182fb8e20313b2c1eb49219da7a70ce90c3"}
	})
	p := newPool(t, node)

	sc, err := p.SigningContext(context.Background(), staking.AccountKey{Account: "0x01", Chain: "polkadot"})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sc.Nonce)
	assert.Equal(t, uint32(1002000), sc.SpecVersion)
	assert.Equal(t, uint32(26), sc.TransactionVersion)
	assert.Len(t, sc.GenesisHash, 32)
}

func TestEncodeRejectsOutdatedEpoch(t *testing.T) {
	node := &fakeNode{}
	node.handle("state_getRuntimeVersion", func(params []json.RawMessage) reply {
		return reply{result: map[string]any{"specVersion": 1002, "transactionVersion": 1}}
	})
	p := newPool(t, node)
	enc, err := NewMetadataEncoder(p)
	require.NoError(t, err)

	epoch, err := enc.CurrentEpoch(context.Background(), "polkadot")
	require.NoError(t, err)
	assert.Equal(t, staking.Epoch(1002), epoch)

	calls := []staking.Call{{Module: "Staking", Function: "withdraw_unbonded", Args: []staking.Arg{{Name: "num_slashing_spans", Value: uint32(0)}}}}
	_, err = enc.Encode(context.Background(), "polkadot", calls, 1001)
	assert.ErrorIs(t, err, errno.ErrEncoding)
	assert.Zero(t, node.called("state_getMetadata"))
}

func TestScaleArgs(t *testing.T) {
	encode := func(v any) []byte {
		t.Helper()
		arg, err := scaleArg(v)
		require.NoError(t, err)
		bz, err := codec.Encode(arg)
		require.NoError(t, err)
		return bz
	}

	assert.Equal(t, []byte{0x04}, encode(staking.Compact{Decimal: decimal.NewFromInt(1)}))
	assert.Equal(t, []byte{0x01}, encode(staking.Variant{Index: 1, Name: "Rewards"}))

	freeBalance := encode(staking.Variant{Index: 0, Name: "FreeBalance", Value: staking.U128{Decimal: decimal.NewFromInt(5)}})
	require.Len(t, freeBalance, 17)
	assert.Equal(t, byte(0x00), freeBalance[0])
	assert.Equal(t, byte(0x05), freeBalance[1])

	eth := "0x" + "11223344556677889900aabbccddeeff00112233"
	assert.Len(t, encode(staking.RawAccount(eth)), 20)

	sub := "0x" + "d43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"
	assert.Len(t, encode(staking.RawAccount(sub)), 32)
	// MultiAddress::Id 前缀 0x00
	multi := encode(staking.AccountArg(sub))
	require.Len(t, multi, 33)
	assert.Equal(t, byte(0x00), multi[0])

	_, err := scaleArg(staking.AccountArg("15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5"))
	assert.Error(t, err)
	_, err = scaleArg(staking.Compact{Decimal: decimal.NewFromInt(-1)})
	assert.Error(t, err)
	_, err = scaleArg(3.14)
	assert.Error(t, err)
}
