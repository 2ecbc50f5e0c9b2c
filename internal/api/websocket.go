package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/thereceipt/netprint/internal/jobs"
)

// WebSocket message types
const (
	EventPrintBill         = "print_bill"
	EventDiscoverPrinters  = "discover_printers"
	EventResponse          = "response"
	EventError             = "error"
	EventPrinterDiscovered = "printer_discovered"
	EventPrinterLost       = "printer_lost"
	EventJobUpdated        = "job_updated"
)

const writeWait = 10 * time.Second

// WSMessage represents a WebSocket message. ID is echoed back on the reply
// so clients can match requests to responses.
type WSMessage struct {
	Event string                 `json:"event"`
	ID    string                 `json:"id,omitempty"`
	Data  map[string]interface{} `json:"data"`
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn   *websocket.Conn
	send   chan WSMessage
	server *Server
	ctx    context.Context
	cancel context.CancelFunc
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &WSClient{
		conn:   conn,
		send:   make(chan WSMessage, 256),
		server: s,
		ctx:    ctx,
		cancel: cancel,
	}

	s.addClient(client)
	s.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("websocket client connected")

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) writePump() {
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.log.Debug().Err(err).Msg("websocket write failed")
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.cancel()
		c.conn.Close()
		c.server.log.Info().Msg("websocket client disconnected")
	}()

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		// Requests run independently so a discovery window does not hold up prints
		go c.handleMessage(&msg)
	}
}

func (c *WSClient) handleMessage(msg *WSMessage) {
	switch msg.Event {
	case EventPrintBill:
		c.handlePrintBill(msg)
	case EventDiscoverPrinters:
		c.handleDiscoverPrinters(msg)
	default:
		c.sendError(msg.ID, "", fmt.Sprintf("unknown event: %s", msg.Event))
	}
}

// handlePrintBill prints and replies once the job has finished
func (c *WSClient) handlePrintBill(msg *WSMessage) {
	target, _ := msg.Data["printer_ip"].(string)
	target = strings.TrimSpace(target)
	if target == "" {
		c.sendError(msg.ID, CodeInvalidIP, "Printer IP is null or empty")
		return
	}
	text, ok := msg.Data["bill_text"].(string)
	if !ok {
		c.sendError(msg.ID, CodeInvalidText, "Bill text is null")
		return
	}

	address := c.server.registry.Resolve(target)
	result := c.server.dispatcher.PrintJob(c.ctx, address, text)
	if !result.OK {
		c.enqueue(WSMessage{
			Event: EventError,
			ID:    msg.ID,
			Data: map[string]interface{}{
				"code":    CodePrintFailed,
				"error":   result.Message,
				"reason":  result.Reason,
				"request": EventPrintBill,
			},
		})
		return
	}

	c.sendResponse(msg, map[string]interface{}{
		"success": true,
		"message": result.Message,
	})
}

// handleDiscoverPrinters runs a discovery window. Printers are also announced
// one by one through printer_discovered while the window is open.
func (c *WSClient) handleDiscoverPrinters(msg *WSMessage) {
	timeout, port := c.server.executor.Defaults()
	if ms, ok := msg.Data["timeout_ms"].(float64); ok {
		timeout = time.Duration(ms) * time.Millisecond
	}

	found := c.server.discover(c.ctx, timeout, port)
	c.sendResponse(msg, map[string]interface{}{
		"success":  true,
		"printers": found,
	})
}

func (c *WSClient) sendResponse(req *WSMessage, data map[string]interface{}) {
	data["request"] = req.Event
	c.enqueue(WSMessage{
		Event: EventResponse,
		ID:    req.ID,
		Data:  data,
	})
}

func (c *WSClient) sendError(id, code, message string) {
	data := map[string]interface{}{
		"error": message,
	}
	if code != "" {
		data["code"] = code
	}
	c.enqueue(WSMessage{
		Event: EventError,
		ID:    id,
		Data:  data,
	})
}

// enqueue hands msg to the write pump, dropping it when the client is gone
// or too far behind
func (c *WSClient) enqueue(msg WSMessage) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.server.log.Warn().Str("event", msg.Event).Msg("websocket client send buffer full, dropping message")
		return false
	}
}

func (s *Server) addClient(client *WSClient) {
	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	s.clientsMu.Unlock()
}

func (s *Server) removeClient(client *WSClient) {
	s.clientsMu.Lock()
	delete(s.clients, client)
	s.clientsMu.Unlock()
}

func (s *Server) closeClients() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		client.cancel()
	}
}

func (s *Server) broadcast(message WSMessage) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		client.enqueue(message)
	}
}

// BroadcastPrinterDiscovered announces a printer seen during any discovery window
func (s *Server) BroadcastPrinterDiscovered(address string) {
	s.broadcast(WSMessage{
		Event: EventPrinterDiscovered,
		Data: map[string]interface{}{
			"address": address,
		},
	})
}

// BroadcastPrinterLost announces a printer that no longer answers discovery
func (s *Server) BroadcastPrinterLost(address string) {
	s.broadcast(WSMessage{
		Event: EventPrinterLost,
		Data: map[string]interface{}{
			"address": address,
		},
	})
}

// BroadcastJobUpdated announces a job status change to all connected clients
func (s *Server) BroadcastJobUpdated(job jobs.Job) {
	data := map[string]interface{}{
		"id":         job.ID,
		"printer_ip": job.Address,
		"status":     job.Status,
		"retries":    job.Retries,
	}
	if job.Result.Message != "" {
		data["message"] = job.Result.Message
	}
	if job.Result.Reason != "" {
		data["reason"] = job.Result.Reason
	}

	s.broadcast(WSMessage{
		Event: EventJobUpdated,
		Data:  data,
	})
}
