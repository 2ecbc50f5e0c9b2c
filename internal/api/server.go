// Package api handles HTTP and WebSocket API endpoints
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/thereceipt/netprint/internal/command"
	"github.com/thereceipt/netprint/internal/dispatcher"
	"github.com/thereceipt/netprint/internal/jobs"
	"github.com/thereceipt/netprint/internal/registry"
	"github.com/thereceipt/netprint/internal/transport"
)

// Error codes shared by the HTTP and WebSocket surfaces
const (
	CodeInvalidIP   = "INVALID_IP"
	CodeInvalidText = "INVALID_TEXT"
	CodePrintFailed = "PRINT_FAILED"
)

// Server is the API server
type Server struct {
	router     *gin.Engine
	dispatcher *dispatcher.Dispatcher
	queue      *jobs.Queue
	registry   *registry.Registry
	executor   *command.Executor
	upgrader   websocket.Upgrader
	log        zerolog.Logger

	clients   map[*WSClient]struct{}
	clientsMu sync.RWMutex
}

// NewServer creates a new API server
func NewServer(d *dispatcher.Dispatcher, q *jobs.Queue, reg *registry.Registry, exec *command.Executor, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	server := &Server{
		router:     router,
		dispatcher: d,
		queue:      q,
		registry:   reg,
		executor:   exec,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		log:     log.With().Str("component", "api").Logger(),
		clients: make(map[*WSClient]struct{}),
	}

	router.Use(server.requestLogger(), corsMiddleware())
	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	s.router.POST("/print", s.handlePrint)
	s.router.POST("/jobs", s.handleSubmitJob)
	s.router.GET("/jobs", s.handleGetJobs)
	s.router.GET("/job/:id", s.handleGetJob)
	s.router.DELETE("/jobs/completed", s.handleClearJobs)

	s.router.POST("/discover", s.handleDiscover)
	s.router.GET("/printers", s.handleGetPrinters)
	s.router.POST("/printer/network", s.handleAddNetworkPrinter)
	s.router.POST("/printer/:id/name", s.handleSetPrinterName)
	s.router.DELETE("/printer/:id", s.handleRemovePrinter)

	s.router.POST("/command", s.handleCommand)

	s.router.GET("/ws", s.handleWebSocket)

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Handler exposes the router for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// printRequest is the body of /print and /jobs. BillText is a pointer so a
// missing field can be told apart from an empty bill.
type printRequest struct {
	PrinterIP string  `json:"printer_ip"`
	BillText  *string `json:"bill_text"`
}

// validate resolves the printer and returns an error code when the request
// cannot be printed
func (s *Server) validate(req printRequest) (address, code, message string) {
	target := strings.TrimSpace(req.PrinterIP)
	if target == "" {
		return "", CodeInvalidIP, "Printer IP is null or empty"
	}
	if req.BillText == nil {
		return "", CodeInvalidText, "Bill text is null"
	}
	return s.registry.Resolve(target), "", ""
}

// handlePrint prints synchronously and reports the outcome
func (s *Server) handlePrint(c *gin.Context) {
	var req printRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	address, code, message := s.validate(req)
	if code != "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": code, "error": message})
		return
	}

	result := s.dispatcher.PrintJob(c.Request.Context(), address, *req.BillText)
	if !result.OK {
		c.JSON(http.StatusBadGateway, gin.H{
			"code":   CodePrintFailed,
			"error":  result.Message,
			"reason": result.Reason,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": result.Message,
	})
}

// handleSubmitJob queues a print job and returns immediately
func (s *Server) handleSubmitJob(c *gin.Context) {
	var req printRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	address, code, message := s.validate(req)
	if code != "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": code, "error": message})
		return
	}

	jobID := s.queue.Enqueue(address, *req.BillText)

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"job_id":  jobID,
	})
}

// handleGetJobs returns all print jobs
func (s *Server) handleGetJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.queue.GetAllJobs()})
}

// handleGetJob returns a specific print job
func (s *Server) handleGetJob(c *gin.Context) {
	job := s.queue.GetJob(c.Param("id"))
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) handleClearJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": s.queue.ClearCompleted()})
}

// handleDiscover runs one discovery window and registers every printer found
func (s *Server) handleDiscover(c *gin.Context) {
	var req struct {
		TimeoutMS *int `json:"timeout_ms"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	timeout, port := s.executor.Defaults()
	if req.TimeoutMS != nil {
		timeout = time.Duration(*req.TimeoutMS) * time.Millisecond
	}

	c.JSON(http.StatusOK, gin.H{
		"printers": s.discover(c.Request.Context(), timeout, port),
	})
}

// discoveredPrinter is one entry of a discovery reply
type discoveredPrinter struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

func (s *Server) discover(ctx context.Context, timeout time.Duration, port int) []discoveredPrinter {
	addresses := s.dispatcher.Discover(ctx, timeout)
	ids := s.registry.RegisterDiscovered(addresses, port)

	found := make([]discoveredPrinter, len(addresses))
	for i, addr := range addresses {
		found[i] = discoveredPrinter{ID: ids[i], Address: addr}
	}
	return found
}

// handleGetPrinters returns all known printers
func (s *Server) handleGetPrinters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"printers": s.registry.List()})
}

// handleSetPrinterName sets a custom name for a printer
func (s *Server) handleSetPrinterName(c *gin.Context) {
	printerID := c.Param("id")

	var req struct {
		Name string `json:"name" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	found, err := s.registry.SetPrinterName(printerID, req.Name)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "printer not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleAddNetworkPrinter manually adds a network printer
func (s *Server) handleAddNetworkPrinter(c *gin.Context) {
	var req struct {
		Host        string `json:"host" binding:"required"`
		Port        int    `json:"port"`
		Description string `json:"description"`
		Name        string `json:"name"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "host is required"})
		return
	}

	if req.Port == 0 {
		req.Port = transport.DefaultPort
	}
	if req.Port < 0 || req.Port > 65535 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid port"})
		return
	}

	printerID := s.registry.GetPrinterID(registry.PrinterInfo{
		Host:        req.Host,
		Port:        req.Port,
		Description: req.Description,
		Source:      registry.SourceManual,
	})
	if req.Name != "" {
		if _, err := s.registry.SetPrinterName(printerID, req.Name); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "printer_id": printerID})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"printer_id": printerID,
		"printer":    s.registry.GetPrinterInfo(printerID),
	})
}

func (s *Server) handleRemovePrinter(c *gin.Context) {
	found, err := s.registry.RemovePrinter(c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "printer not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleCommand handles command execution requests
func (s *Server) handleCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}

	result := s.executor.Execute(c.Request.Context(), req.Command)

	if !result.Success {
		response := gin.H{
			"success": false,
			"error":   result.Error,
		}
		if reason, ok := result.Data["reason"]; ok {
			response["reason"] = reason
		}
		c.JSON(http.StatusBadRequest, response)
		return
	}

	response := gin.H{"success": true}
	if result.Message != "" {
		response["message"] = result.Message
	}
	for k, v := range result.Data {
		response[k] = v
	}
	c.JSON(http.StatusOK, response)
}

// Run serves the API on addr until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.closeClients()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Request.URL.Path == "/health" {
			return
		}
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
