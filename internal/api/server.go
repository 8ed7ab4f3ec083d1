// Package api provides the pool's read-only stats HTTP surface over
// Accounting and the Server Hub.
package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/aleo-pool/zkpool/internal/accounting"
	"github.com/aleo-pool/zkpool/internal/cachettl"
	"github.com/aleo-pool/zkpool/internal/config"
	"github.com/aleo-pool/zkpool/internal/util"
)

// AccountingSource is the subset of Accounting the API depends on.
type AccountingSource interface {
	CurrentRound() accounting.RoundSnapshot
}

// HubSource is the subset of the Server Hub the API depends on.
type HubSource interface {
	OnlineAddresses() int
	OnlineProvers() int
	PoolSpeed() float64
	AddressSpeed(addr util.AccountAddress) (speed float64, proverCount int)
}

// CurrentRoundResponse is the public /current_round body.
type CurrentRoundResponse struct {
	N        uint64 `json:"n"`
	CurrentN uint64 `json:"current_n"`
	Provers  uint32 `json:"provers"`
}

// AdminCurrentRoundResponse is the loopback-only /admin/current_round
// body, carrying the full per-address share map.
type AdminCurrentRoundResponse struct {
	N        uint64                       `json:"n"`
	CurrentN uint64                       `json:"current_n"`
	Provers  uint32                       `json:"provers"`
	Shares   map[util.AccountAddress]uint64 `json:"shares"`
}

// StatsResponse is the public /stats body.
type StatsResponse struct {
	OnlineAddresses int     `json:"online_addresses"`
	OnlineProvers   int     `json:"online_provers"`
	Speed           float64 `json:"speed"`
}

// AddressStatsResponse is the /stats/:address body.
type AddressStatsResponse struct {
	OnlineProvers int     `json:"online_provers"`
	Speed         float64 `json:"speed"`
}

// pushPayload is the frame periodically broadcast on /ws/stats.
type pushPayload struct {
	CurrentRound CurrentRoundResponse `json:"current_round"`
	Stats        StatsResponse        `json:"stats"`
}

// Server is the pool's stats HTTP server.
type Server struct {
	cfg        *config.APIConfig
	accounting AccountingSource
	hub        HubSource
	router     *gin.Engine
	server     *http.Server

	statsCache *cachettl.Cache[StatsResponse]
	upgrader   websocket.Upgrader

	wsMu   sync.Mutex
	wsConn map[*websocket.Conn]struct{}
	stopWS chan struct{}
}

// NewServer builds a Server reading from accounting and hub, cacheing
// the /stats aggregation for cfg.StatsCache.
func NewServer(cfg *config.APIConfig, acct AccountingSource, hub HubSource) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:        cfg,
		accounting: acct,
		hub:        hub,
		router:     router,
		statsCache: cachettl.New[StatsResponse](cfg.StatsCache),
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
		wsConn:     make(map[*websocket.Conn]struct{}),
		stopWS:     make(chan struct{}),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	s.router.GET("/current_round", s.handleCurrentRound)
	s.router.HEAD("/current_round", s.handleCurrentRound)

	s.router.GET("/stats", s.handleStats)
	s.router.HEAD("/stats", s.handleStats)

	s.router.GET("/stats/:address", s.handleAddressStats)
	s.router.HEAD("/stats/:address", s.handleAddressStats)

	s.router.GET("/admin/current_round", s.handleAdminCurrentRound)
	s.router.HEAD("/admin/current_round", s.handleAdminCurrentRound)

	s.router.GET("/ws/stats", s.handleWSStats)

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func (s *Server) currentRoundResponse() CurrentRoundResponse {
	snap := s.accounting.CurrentRound()
	return CurrentRoundResponse{N: snap.N, CurrentN: snap.CurrentN, Provers: snap.Provers}
}

func (s *Server) statsResponse() StatsResponse {
	resp, _ := s.statsCache.GetOrCompute(func() (StatsResponse, error) {
		return StatsResponse{
			OnlineAddresses: s.hub.OnlineAddresses(),
			OnlineProvers:   s.hub.OnlineProvers(),
			Speed:           s.hub.PoolSpeed(),
		}, nil
	})
	return resp
}

// handleCurrentRound serves GET/HEAD /current_round.
func (s *Server) handleCurrentRound(c *gin.Context) {
	c.JSON(http.StatusOK, s.currentRoundResponse())
}

// handleStats serves GET/HEAD /stats.
func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.statsResponse())
}

// handleAddressStats serves GET/HEAD /stats/:address.
func (s *Server) handleAddressStats(c *gin.Context) {
	raw := c.Param("address")
	addr, ok := util.ParseAccountAddress(raw)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}

	speed, provers := s.hub.AddressSpeed(addr)
	c.JSON(http.StatusOK, AddressStatsResponse{OnlineProvers: provers, Speed: speed})
}

// handleAdminCurrentRound serves GET/HEAD /admin/current_round,
// rejecting any caller whose remote address is not loopback.
func (s *Server) handleAdminCurrentRound(c *gin.Context) {
	if !isLoopback(c.Request.RemoteAddr) {
		c.Status(http.StatusMethodNotAllowed)
		return
	}

	snap := s.accounting.CurrentRound()
	c.JSON(http.StatusOK, AdminCurrentRoundResponse{
		N:        snap.N,
		CurrentN: snap.CurrentN,
		Provers:  snap.Provers,
		Shares:   snap.Shares,
	})
}

// handleWSStats upgrades to a websocket and registers the connection to
// receive periodic push updates. Anything the client sends is read and
// discarded; nothing it sends is acted on.
func (s *Server) handleWSStats(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	s.wsMu.Lock()
	s.wsConn[conn] = struct{}{}
	s.wsMu.Unlock()

	defer func() {
		s.wsMu.Lock()
		delete(s.wsConn, conn)
		s.wsMu.Unlock()
		conn.Close()
	}()

	// Drain and discard anything the client sends; this keeps the
	// connection's read deadline machinery happy and detects closure.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcastWS() {
	payload := pushPayload{CurrentRound: s.currentRoundResponse(), Stats: s.statsResponse()}

	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for conn := range s.wsConn {
		if err := conn.WriteJSON(payload); err != nil {
			conn.Close()
			delete(s.wsConn, conn)
		}
	}
}

// Start begins serving the API and the periodic websocket push loop.
func (s *Server) Start() error {
	s.server = &http.Server{Addr: s.cfg.Bind, Handler: s.router}

	util.Infof("api: stats server listening on %s", s.cfg.Bind)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("api: server error: %v", err)
		}
	}()

	go s.pushLoop()

	return nil
}

func (s *Server) pushLoop() {
	ticker := time.NewTicker(s.cfg.StatsCache)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopWS:
			return
		case <-ticker.C:
			s.broadcastWS()
		}
	}
}

// Stop shuts down the API server and its push loop.
func (s *Server) Stop() error {
	close(s.stopWS)
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
