package cp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/evsim-code/ocpp-simulator/internal/metrics"
	"github.com/evsim-code/ocpp-simulator/internal/ocpp"
)

// ErrCallTimeout 出站 CALL 等待应答超时
var ErrCallTimeout = errors.New("cp: call timed out waiting for result")

// ErrClosed 连接已关闭
var ErrClosed = errors.New("cp: connection closed")

// DefaultCallTimeout 出站 CALL 的缺省应答超时
const DefaultCallTimeout = 30 * time.Second

// wsConn 传输抽象，gorilla 的 *websocket.Conn 天然满足；测试用管道桩替代
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type callOutcome struct {
	payload json.RawMessage
	callErr *ocpp.CallError
}

// Client 一条模拟充电桩到 CSMS 的 OCPP-J 连接。
// 出站 CALL 异步发出，按 messageId 精确匹配 CALLRESULT/CALLERROR。
type Client struct {
	ID  string
	log *zap.Logger

	conn    wsConn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan callOutcome

	router      *Router
	callTimeout time.Duration
	appm        *metrics.AppMetrics

	closeOnce sync.Once
	closed    chan struct{}
}

// ClientOptions Client 创建参数
type ClientOptions struct {
	ID          string
	Router      *Router
	CallTimeout time.Duration
	Metrics     *metrics.AppMetrics
	Logger      *zap.Logger
}

// NewClient 用已建立的连接创建客户端（Dial 的下半段，亦供测试注入桩连接）
func NewClient(conn wsConn, opts ClientOptions) *Client {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Router == nil {
		opts.Router = NewRouter(opts.Logger)
	}
	return &Client{
		ID:          opts.ID,
		log:         opts.Logger,
		conn:        conn,
		pending:     make(map[string]chan callOutcome),
		router:      opts.Router,
		callTimeout: opts.CallTimeout,
		appm:        opts.Metrics,
		closed:      make(chan struct{}),
	}
}

// Dial 连接 CSMS。路径习惯为 <base>/<cpId>，子协议 ocpp1.6。
func Dial(ctx context.Context, baseURL string, opts ClientOptions) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(opts.ID))
	if err != nil {
		return nil, fmt.Errorf("cp: bad csms url: %w", err)
	}
	dialer := websocket.Dialer{
		Subprotocols:     []string{"ocpp1.6"},
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("cp: dial %s: %w", u, err)
	}
	return NewClient(conn, opts), nil
}

// Router 入站分发器，供上层在 Run 之前注册动作
func (c *Client) Router() *Router {
	return c.router
}

// Run 读循环（阻塞直到连接关闭或 ctx 取消）。每帧按信封类型分流：
// CALL 走分发器并立即回写应答；CALLRESULT/CALLERROR 唤醒挂起的出站调用。
func (c *Client) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.closed:
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.Close()
			return err
		}
		c.handleFrame(ctx, data)
	}
}

func (c *Client) handleFrame(ctx context.Context, data []byte) {
	msg, err := ocpp.Parse(data)
	if err != nil {
		// 信封都坏了无从回 CALLERROR（拿不到 messageId），只能记日志
		c.log.Warn("dropping unparseable frame", zap.String("cpId", c.ID), zap.Error(err))
		return
	}

	switch m := msg.(type) {
	case *ocpp.Call:
		resp := c.router.Dispatch(ctx, m)
		result := "result"
		if _, isErr := resp.(ocpp.CallError); isErr {
			result = "error"
		}
		if c.appm != nil {
			c.appm.CallsTotal.WithLabelValues(string(m.Action), "in", result).Inc()
		}
		if err := c.write(resp); err != nil {
			c.log.Warn("failed to answer call", zap.String("cpId", c.ID), zap.Error(err))
		}
	case *ocpp.CallResult:
		c.deliver(m.MessageID, callOutcome{payload: m.Payload})
	case *ocpp.CallError:
		c.deliver(m.MessageID, callOutcome{callErr: m})
	}
}

func (c *Client) deliver(messageID string, out callOutcome) {
	c.pendingMu.Lock()
	ch, ok := c.pending[messageID]
	if ok {
		delete(c.pending, messageID)
	}
	c.pendingMu.Unlock()
	if !ok {
		c.log.Debug("result for unknown message id", zap.String("cpId", c.ID), zap.String("messageId", messageID))
		return
	}
	ch <- out
}

// Send 发出一个 CALL 并等待配对的 CALLRESULT。CALLERROR 作为 error 返回；
// 超时按失败处理而不是无限等待。
func (c *Client) Send(ctx context.Context, action ocpp.Action, payload interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("cp: encode %s: %w", action, err)
	}
	messageID := uuid.NewString()

	ch := make(chan callOutcome, 1)
	c.pendingMu.Lock()
	c.pending[messageID] = ch
	c.pendingMu.Unlock()

	start := time.Now()
	if err := c.write(ocpp.Call{MessageID: messageID, Action: action, Payload: raw}); err != nil {
		c.dropPending(messageID)
		return nil, err
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if c.appm != nil {
			c.appm.CallLatency.Observe(time.Since(start).Seconds())
		}
		if out.callErr != nil {
			if c.appm != nil {
				c.appm.CallsTotal.WithLabelValues(string(action), "out", "error").Inc()
			}
			return nil, ocpp.NewError(out.callErr.Code, out.callErr.Description)
		}
		if c.appm != nil {
			c.appm.CallsTotal.WithLabelValues(string(action), "out", "result").Inc()
		}
		return out.payload, nil
	case <-timer.C:
		c.dropPending(messageID)
		if c.appm != nil {
			c.appm.CallTimeoutTotal.Inc()
			c.appm.CallsTotal.WithLabelValues(string(action), "out", "timeout").Inc()
		}
		return nil, fmt.Errorf("%w: %s after %s", ErrCallTimeout, action, c.callTimeout)
	case <-ctx.Done():
		c.dropPending(messageID)
		return nil, ctx.Err()
	case <-c.closed:
		c.dropPending(messageID)
		return nil, ErrClosed
	}
}

// Call 发出 CALL 并把应答解码进 out
func (c *Client) Call(ctx context.Context, action ocpp.Action, payload, out interface{}) error {
	raw, err := c.Send(ctx, action, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("cp: decode %s result: %w", action, err)
	}
	return nil
}

func (c *Client) dropPending(messageID string) {
	c.pendingMu.Lock()
	delete(c.pending, messageID)
	c.pendingMu.Unlock()
}

func (c *Client) write(frame interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("cp: encode frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close 关闭连接并释放所有挂起的出站调用
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// Closed 连接关闭通知
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}
