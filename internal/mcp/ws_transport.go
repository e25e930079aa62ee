package mcp

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// maxMessageBytes caps one inbound JSON-RPC message.
const maxMessageBytes = 1 << 20

// NewWebSocketTransport wraps an upgraded or dialed websocket as an MCP
// transport. Each JSON-RPC message travels as one binary frame.
func NewWebSocketTransport(conn *websocket.Conn) sdk.Transport {
	conn.SetReadLimit(maxMessageBytes)
	return wsTransport{conn: conn}
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t wsTransport) Connect(context.Context) (sdk.Connection, error) {
	return &wsConn{ws: t.conn, id: t.conn.RemoteAddr().String()}, nil
}

type wsConn struct {
	ws *websocket.Conn
	id string

	// gorilla allows a single concurrent writer; responses and
	// notifications may be written from different goroutines
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(dl)
		defer c.ws.SetReadDeadline(time.Time{})
	}
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	return jsonrpc.DecodeMessage(data)
}

func (c *wsConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(dl)
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// Close sends a close frame before dropping the socket.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *wsConn) SessionID() string { return c.id }
