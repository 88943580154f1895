package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"MarketScreener/internal/model"
	"MarketScreener/internal/screener"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Server exposes the coordinator over HTTP and streams run events over WebSocket.
type Server struct {
	ctx    context.Context
	coord  *screener.Coordinator
	hub    *Hub
	engine *gin.Engine
	http   *http.Server
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New creates a Server and registers its hub as a listener on coord.
// Runs started over HTTP live as long as ctx, not the request.
func New(ctx context.Context, coord *screener.Coordinator) *Server {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		ctx:    ctx,
		coord:  coord,
		hub:    NewHub(coord.Status),
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery())
	coord.AddListener(s.hub)

	s.setupRoutes()
	go s.hub.Run(ctx)
	return s
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.getHealth)
	api.POST("/runs", s.startRun)
	api.POST("/runs/cancel", s.cancelRun)
	api.GET("/runs/current", s.currentRun)

	s.engine.GET("/ws", s.handleWebSocket)
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("[INFO] HTTP server listening on %s", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

type runRequest struct {
	Segment string `json:"segment"`
	Days    int    `json:"days"`
}

func (s *Server) startRun(c *gin.Context) {
	var body runRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	segment, ok := model.ParseSegment(body.Segment)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown market segment: " + body.Segment})
		return
	}

	err := s.coord.Start(s.ctx, screener.Request{Segment: segment, Days: body.Days})
	switch {
	case errors.Is(err, screener.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "run": s.coord.Status()})
	case errors.Is(err, screener.ErrInvalidParams):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, s.coord.Status())
	}
}

func (s *Server) cancelRun(c *gin.Context) {
	if !s.coord.Cancel() {
		c.JSON(http.StatusConflict, gin.H{"error": "no screening run in progress"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (s *Server) currentRun(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.Status())
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"running": s.coord.Running(),
	})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WARN] websocket upgrade: %v", err)
		return
	}

	client := &Client{hub: s.hub, conn: conn, send: make(chan Event, sendBuffer)}
	if !s.hub.attach(client) {
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}
