// Package control is the vessel-local HTTP surface of the daemon: the
// wheelhouse UI (distress button, status panel) talks to the engine
// through it. It binds to loopback and carries no authentication; the
// relay's public surface lives in internal/relay.
package control

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coastalguard/beacon/internal/engine"
	"github.com/coastalguard/beacon/internal/geo"
	"github.com/coastalguard/beacon/internal/store"
	"github.com/coastalguard/beacon/pkg/sos"
)

// ServerConfig tunes the local control surface.
type ServerConfig struct {
	ListenAddr string
	Identity   sos.Actor // vessel identity stamped onto triggered records
}

// Server exposes trigger and status endpoints over the engine.
type Server struct {
	eng    *engine.Service
	cfg    ServerConfig
	logger *slog.Logger

	router  *gin.Engine
	httpSrv *http.Server
}

// TriggerRequest is the body of POST /api/sos. Position is required;
// type defaults to a distress call.
type TriggerRequest struct {
	Type     string       `json:"type"`
	Position sos.Position `json:"position"`
}

// TriggerResponse reports the persisted record and whether a channel
// accepted it inline. Delivered false means cached for retry, not lost.
type TriggerResponse struct {
	Record    *sos.Record `json:"record"`
	Delivered bool        `json:"delivered"`
}

// NewServer builds the router around the engine.
func NewServer(eng *engine.Service, logger *slog.Logger, cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		eng:    eng,
		cfg:    cfg,
		logger: logger,
	}

	r := gin.New()
	r.Use(gin.Recovery())

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/health", s.handleHealth)
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.POST("/sos", s.handleTrigger)
		apiGroup.GET("/sos/:id", s.handleGet)
	}

	s.router = r
	return s
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second, // a trigger walks the channel chain inline
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Control surface listening", "addr", s.cfg.ListenAddr)
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
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"time":    time.Now().UTC(),
		"running": s.eng.IsRunning(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.eng.GetStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleTrigger(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}
	if err := geo.Validate(req.Position); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	intent := sos.Intent{
		Type:     sos.Type(req.Type),
		Origin:   s.cfg.Identity,
		Position: req.Position,
	}
	if intent.Type == "" {
		intent.Type = sos.TypeDistress
	}

	rec, delivered, err := s.eng.TriggerSOS(c.Request.Context(), intent)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info("SOS triggered via control surface",
		"id", rec.ID, "delivered", delivered)
	c.JSON(http.StatusCreated, TriggerResponse{Record: rec, Delivered: delivered})
}

func (s *Server) handleGet(c *gin.Context) {
	rec, err := s.eng.GetDelivery(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}
