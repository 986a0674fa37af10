package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// wsConn is both the sdk.Transport and its single sdk.Connection: one
// JSON-RPC message per websocket text frame, usable from either end.
type wsConn struct {
	ws *websocket.Conn

	// gorilla allows one concurrent writer; the sdk writes responses and
	// notifications from different goroutines.
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketTransport wraps ws for sdk.Server.Connect or sdk.Client.Connect.
func NewWebSocketTransport(ws *websocket.Conn) sdk.Transport {
	return &wsConn{ws: ws}
}

func (c *wsConn) Connect(context.Context) (sdk.Connection, error) { return c, nil }

func (c *wsConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(dl)
		defer c.ws.SetReadDeadline(time.Time{})
	}
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		return jsonrpc.DecodeMessage(data)
	}
}

func (c *wsConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Time{}
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.ws.Close() })
	return c.closeErr
}

func (c *wsConn) SessionID() string { return "" }
