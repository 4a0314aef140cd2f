package chain

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// WSClient is a minimal JSON-RPC 2.0 websocket subscriber.
type WSClient struct {
	Endpoint string
	Conn     *websocket.Conn
	nextID   atomic.Int64
}

func NewWSClient(endpoint string) *WSClient {
	return &WSClient{Endpoint: endpoint}
}

func (c *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, c.Endpoint, nil)
	if err != nil {
		return err
	}
	c.Conn = conn
	return nil
}

func (c *WSClient) Close() {
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

func (c *WSClient) Subscribe(method string, params ...any) error {
	if c.Conn == nil {
		return errors.New("ws not connected")
	}
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  method,
		"params":  params,
	}
	return c.Conn.WriteJSON(payload)
}

// Notification is one server push. Acks to subscribe requests have an empty Method.
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *WSClient) Read() (*Notification, error) {
	_, msg, err := c.Conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var n Notification
	if err := json.Unmarshal(msg, &n); err != nil {
		return nil, err
	}
	if n.Error != nil {
		return nil, errors.New(n.Error.Message)
	}
	return &n, nil
}
