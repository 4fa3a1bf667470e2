package chainrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"staking-core/pkg/logger"
)

// ErrClosed 连接已断开，所有等待中的请求和订阅都会收到它
var ErrClosed = errors.New("rpc connection closed")

// RPCError 节点返回的 JSON-RPC 错误
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type notification struct {
	Subscription json.RawMessage `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// message 响应和订阅通知共用一个结构，ID 为空即通知
type message struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	Method string          `json:"method"`
	Params *notification   `json:"params"`
}

// Client Substrate 节点的 websocket JSON-RPC 客户端
// 一个读协程负责分发: 带 ID 的是请求响应，不带 ID 的是订阅通知
type Client struct {
	url  string
	conn *websocket.Conn
	log  *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan message
	subs    map[string]*Subscription
	// 订阅 ID 注册之前到达的通知
	early  map[string][]json.RawMessage
	closed chan struct{}
	err    error
}

// normalizeURL 允许配置成 http(s)://
func normalizeURL(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// Dial 建立连接并启动读协程
func Dial(ctx context.Context, url string) (*Client, error) {
	url = normalizeURL(url)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		url:     url,
		conn:    conn,
		log:     logger.Named("chainrpc").With(zap.String("url", url)),
		pending: make(map[uint64]chan message),
		subs:    make(map[string]*Subscription),
		early:   make(map[string][]json.RawMessage),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Done 连接断开后关闭
func (c *Client) Done() <-chan struct{} { return c.closed }

func (c *Client) Close() error {
	c.fail(ErrClosed)
	return c.conn.Close()
}

func (c *Client) send(ctx context.Context, method string, params []any) (uint64, chan message, error) {
	if params == nil {
		params = []any{}
	}
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return 0, nil, c.err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan message, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}
	err := c.conn.WriteJSON(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return 0, nil, fmt.Errorf("%s: %w", method, err)
	}
	return id, ch, nil
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) await(ctx context.Context, id uint64, ch chan message) (message, error) {
	select {
	case m := <-ch:
		if m.Error != nil {
			return m, m.Error
		}
		return m, nil
	case <-ctx.Done():
		c.forget(id)
		return message{}, ctx.Err()
	case <-c.closed:
		return message{}, c.closedErr()
	}
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClosed
}

// Call 发送请求并把 result 解析到 out (out 为 nil 时忽略结果)
func (c *Client) Call(ctx context.Context, out any, method string, params ...any) error {
	id, ch, err := c.send(ctx, method, params)
	if err != nil {
		return err
	}
	m, err := c.await(ctx, id, ch)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(m.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// Subscription 一个 pubsub 订阅，连接断开或取消订阅后 C() 被关闭
type Subscription struct {
	id     string
	client *Client
	unsub  string
	ch     chan json.RawMessage
	quit   chan struct{}
	once   sync.Once

	sendMu sync.Mutex
	done   bool
}

// shut 先唤醒阻塞中的 dispatch，再在 sendMu 下关闭通道
func (s *Subscription) shut() {
	close(s.quit)
	s.sendMu.Lock()
	s.done = true
	close(s.ch)
	s.sendMu.Unlock()
}

func (s *Subscription) deliver(raw json.RawMessage, closed <-chan struct{}) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.done {
		return
	}
	select {
	case s.ch <- raw:
	case <-s.quit:
	case <-closed:
	}
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) C() <-chan json.RawMessage { return s.ch }

// Unsubscribe 通知节点并关闭通道，可重复调用
func (s *Subscription) Unsubscribe(ctx context.Context) {
	s.once.Do(func() {
		s.client.mu.Lock()
		delete(s.client.subs, s.id)
		s.client.mu.Unlock()
		s.shut()
		if s.unsub != "" {
			if err := s.client.Call(ctx, nil, s.unsub, s.id); err != nil {
				s.client.log.Debug("unsubscribe failed", zap.String("method", s.unsub), zap.Error(err))
			}
		}
	})
}

// Subscribe 例如 author_submitAndWatchExtrinsic / author_unwatchExtrinsic
func (c *Client) Subscribe(ctx context.Context, method, unsubscribe string, params ...any) (*Subscription, error) {
	id, ch, err := c.send(ctx, method, params)
	if err != nil {
		return nil, err
	}
	m, err := c.await(ctx, id, ch)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	subID, err := subscriptionID(m.Result)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	sub := &Subscription{
		id:     subID,
		client: c,
		unsub:  unsubscribe,
		ch:     make(chan json.RawMessage, 16),
		quit:   make(chan struct{}),
	}
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, c.err
	}
	c.subs[subID] = sub
	early := c.early[subID]
	delete(c.early, subID)
	c.mu.Unlock()

	for _, raw := range early {
		sub.deliver(raw, c.closed)
	}
	return sub, nil
}

// 订阅 ID 可能是字符串或数字
func subscriptionID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("unexpected subscription id %s", string(raw))
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		var m message
		if err := json.Unmarshal(data, &m); err != nil {
			c.log.Warn("drop undecodable message", zap.Error(err))
			continue
		}

		if m.ID != nil {
			c.mu.Lock()
			ch, ok := c.pending[*m.ID]
			delete(c.pending, *m.ID)
			c.mu.Unlock()
			if ok {
				ch <- m
			}
			continue
		}
		if m.Params == nil {
			continue
		}
		c.dispatch(m.Params)
	}
}

// dispatch 订阅通道满时阻塞读协程，交易状态很少，消费方会及时读取
func (c *Client) dispatch(n *notification) {
	id, err := subscriptionID(n.Subscription)
	if err != nil {
		return
	}
	c.mu.Lock()
	sub, ok := c.subs[id]
	if !ok {
		c.early[id] = append(c.early[id], n.Result)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	sub.deliver(n.Result, c.closed)
}

// fail 只执行一次: 唤醒所有等待者并关闭订阅
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = err
	subs := c.subs
	c.subs = make(map[string]*Subscription)
	c.pending = make(map[uint64]chan message)
	close(c.closed)
	c.mu.Unlock()

	for _, s := range subs {
		s.once.Do(s.shut)
	}
	if err != ErrClosed {
		c.log.Warn("rpc connection lost", zap.Error(err))
	}
}
