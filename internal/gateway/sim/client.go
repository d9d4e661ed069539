package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"tradecore/internal/gateway"
	"tradecore/internal/logger"
)

const dialTimeout = 10 * time.Second

type ackResult struct {
	orderID string
	reason  string
	ok      bool
}

// Client is the gateway.Adapter for a sim venue. One Connect is one
// session; the session's event channel closes when the socket dies.
type Client struct {
	reqSeq atomic.Int64

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	events  chan gateway.Event
	acks    map[string]chan ackResult
	queries map[string]chan fillsFrame
}

var _ gateway.Adapter = (*Client)(nil)

func NewClient() *Client {
	return &Client{}
}

func (c *Client) Name() string { return "sim" }

func (c *Client) Connect(ctx context.Context, sess gateway.SessionConfig) error {
	url := fmt.Sprintf("ws://%s/ws", net.JoinHostPort(sess.Host, strconv.Itoa(sess.Port)))
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.done = make(chan struct{})
	c.events = make(chan gateway.Event, 64)
	c.acks = make(map[string]chan ackResult)
	c.queries = make(map[string]chan fillsFrame)
	events, done := c.events, c.done
	c.mu.Unlock()

	go c.readLoop(conn, events, done)
	logger.Debugf("[sim] session open to %s", url)
	return nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

func (c *Client) Events() <-chan gateway.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

func (c *Client) Submit(ctx context.Context, req gateway.OrderRequest) (string, error) {
	conn, done := c.session()
	if conn == nil {
		return "", fmt.Errorf("sim gateway: no active session")
	}
	ch := make(chan ackResult, 1)
	c.mu.Lock()
	c.acks[req.ClientOrderID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.acks, req.ClientOrderID)
		c.mu.Unlock()
	}()

	frame := submitFrame{
		Type:          frameSubmit,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Kind:          string(req.Kind),
		Quantity:      req.Quantity,
		LimitPrice:    req.LimitPrice,
		Account:       req.Account,
	}
	if err := c.write(conn, frame); err != nil {
		return "", err
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-done:
		return "", fmt.Errorf("sim gateway: session closed")
	case res := <-ch:
		if !res.ok {
			return "", fmt.Errorf("venue rejected order: %s", res.reason)
		}
		return res.orderID, nil
	}
}

func (c *Client) QueryFills(ctx context.Context, from, to time.Time) ([]gateway.VenueFill, error) {
	conn, done := c.session()
	if conn == nil {
		return nil, fmt.Errorf("sim gateway: no active session")
	}
	reqID := fmt.Sprintf("q-%d", c.reqSeq.Add(1))
	ch := make(chan fillsFrame, 1)
	c.mu.Lock()
	c.queries[reqID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.queries, reqID)
		c.mu.Unlock()
	}()

	frame := queryFillsFrame{
		Type:       frameQueryFills,
		ReqID:      reqID,
		FromMillis: from.UnixMilli(),
		ToMillis:   to.UnixMilli(),
	}
	if err := c.write(conn, frame); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		return nil, fmt.Errorf("sim gateway: session closed")
	case resp := <-ch:
		fills := make([]gateway.VenueFill, 0, len(resp.Fills))
		for _, f := range resp.Fills {
			fills = append(fills, frameToVenueFill(f))
		}
		return fills, nil
	}
}

func (c *Client) session() (*websocket.Conn, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn, c.done
}

func (c *Client) write(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	logger.LogWireFrame("sim", "send", b)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, b)
}

// readLoop owns the session: it dispatches frames until the socket
// fails, then tears the session down. Closing the event channel is the
// session-end signal the supervisor watches for.
func (c *Client) readLoop(conn *websocket.Conn, events chan gateway.Event, done chan struct{}) {
	defer func() {
		close(done)
		conn.Close()
		close(events)
	}()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Debugf("[sim] session read ended: %v", err)
			return
		}
		logger.LogWireFrame("sim", "recv", msg)
		c.dispatch(msg, events)
	}
}

func (c *Client) dispatch(msg []byte, events chan gateway.Event) {
	switch gjson.GetBytes(msg, "type").Str {
	case frameAck:
		var f ackFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			logger.Warnf("[sim] bad ack frame: %v", err)
			return
		}
		c.resolveAck(f.ClientOrderID, ackResult{orderID: f.OrderID, ok: true})
	case frameReject:
		var f ackFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			logger.Warnf("[sim] bad reject frame: %v", err)
			return
		}
		c.resolveAck(f.ClientOrderID, ackResult{reason: f.Reason})
	case frameFill:
		var f fillFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			logger.Warnf("[sim] bad fill frame: %v", err)
			return
		}
		events <- fillFrameToEvent(f)
	case frameStatus:
		var f statusFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			logger.Warnf("[sim] bad status frame: %v", err)
			return
		}
		events <- statusFrameToEvent(f, gateway.EventStatus)
	case frameError:
		var f statusFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			logger.Warnf("[sim] bad error frame: %v", err)
			return
		}
		events <- statusFrameToEvent(f, gateway.EventError)
	case frameFills:
		var f fillsFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			logger.Warnf("[sim] bad fills frame: %v", err)
			return
		}
		c.mu.Lock()
		ch := c.queries[f.ReqID]
		delete(c.queries, f.ReqID)
		c.mu.Unlock()
		if ch != nil {
			ch <- f
		}
	default:
		logger.Warnf("[sim] unknown frame type %q", gjson.GetBytes(msg, "type").Str)
	}
}

func (c *Client) resolveAck(clientOrderID string, res ackResult) {
	c.mu.Lock()
	ch := c.acks[clientOrderID]
	delete(c.acks, clientOrderID)
	c.mu.Unlock()
	if ch != nil {
		ch <- res
	}
}
