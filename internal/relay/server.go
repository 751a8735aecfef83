package relay

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	ws "github.com/gorilla/websocket"

	"github.com/coastalguard/beacon/internal/api"
	"github.com/coastalguard/beacon/pkg/sos"
)

// ServerConfig tunes the relay's HTTP surface.
type ServerConfig struct {
	ListenAddr string
	Secret     string // shared secret for the websocket endpoint
}

// Server exposes the hub over REST and websocket. REST is the vessel's
// fallback path when it cannot hold a socket open, and the integration
// surface for dashboards.
type Server struct {
	hub    *Hub
	cfg    ServerConfig
	logger *slog.Logger

	engine   *gin.Engine
	httpSrv  *http.Server
	upgrader ws.Upgrader
}

// NewServer builds the router around a hub.
func NewServer(hub *Hub, cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		hub:    hub,
		cfg:    cfg,
		logger: hub.logger,
		upgrader: ws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Vessels connect from whatever network they can reach.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/health", s.handleHealth)
		apiGroup.POST("/sos", s.handleSubmit)
		apiGroup.GET("/sos", s.handleList)
		apiGroup.GET("/sos/:id", s.handleGet)
		apiGroup.PATCH("/sos/:id/acknowledge", s.handleAcknowledge)
		apiGroup.PATCH("/sos/:id/resolve", s.handleResolve)
		apiGroup.GET("/positions", s.handlePositions)
	}
	r.GET("/ws", s.handleWebsocket)

	s.engine = r
	return s
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Relay listening", "addr", s.cfg.ListenAddr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ─── REST handlers ──────────────────────────────────────────────────

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
		"counts": s.hub.Counts(),
		"alerts": s.hub.deps.Alerts.Len(),
	})
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req api.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "malformed body"})
		return
	}

	rec := sos.Record{
		ID:   req.ClientSOSID,
		Type: sos.Type(req.Type),
		Origin: sos.Actor{
			ID:          req.FishermanID,
			Role:        sos.RoleSender,
			DisplayName: req.FishermanName,
			VesselID:    req.BoatNumber,
			Phone:       req.Phone,
		},
		Position:    req.Location,
		TriggeredAt: time.Now().UTC(),
	}

	alert, added, err := s.hub.Accept(rec, req.ClientSOSID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	status := http.StatusCreated
	if !added {
		status = http.StatusOK
	}
	c.JSON(status, api.SubmitResponse{
		Success:    true,
		SOSID:      alert.ID,
		ReceivedAt: alert.ReceivedAt.Format(time.RFC3339),
		Duplicate:  !added,
	})
}

func (s *Server) handleList(c *gin.Context) {
	var alerts []sos.Alert
	if c.Query("all") == "true" {
		alerts = s.hub.deps.Alerts.All()
	} else {
		alerts = s.hub.deps.Alerts.Active()
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handleGet(c *gin.Context) {
	alert, ok := s.hub.deps.Alerts.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (s *Server) handleAcknowledge(c *gin.Context) {
	s.setStatus(c, sos.AlertAcknowledged)
}

func (s *Server) handleResolve(c *gin.Context) {
	s.setStatus(c, sos.AlertResolved)
}

func (s *Server) setStatus(c *gin.Context, status sos.AlertStatus) {
	var req api.StatusRequest
	_ = c.ShouldBindJSON(&req)
	if req.By == "" {
		req.By = "rest-api"
	}

	alert, ok := s.hub.SetStatus(c.Param("id"), status, req.By)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "alert not found or transition not allowed"})
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.hub.deps.LastSeen.All()})
}

// ─── Websocket upgrade ──────────────────────────────────────────────

func (s *Server) handleWebsocket(c *gin.Context) {
	if s.cfg.Secret != "" && c.Query("secret") != s.cfg.Secret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "bad secret"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	session := newSession(s.hub.NewSessionID(), s.hub, conn, s.logger)
	s.hub.attach(session)
	s.logger.Info("Session connected", "session", session.ID, "remote", c.ClientIP())

	go session.writePump()
	go session.readPump()
}
