package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tripsitter/tripsitter/internal/manager"
	"github.com/tripsitter/tripsitter/internal/metrics"
)

// Router exposes the supervisor over HTTP.
// Endpoints:
//
//	GET  {basePath}/status   supervisor snapshot
//	GET  {basePath}/healthz  200 while Running, 503 otherwise
//	POST {basePath}/stop     graceful engine stop
//	GET  {basePath}/metrics  Prometheus exposition
type Router struct {
	mgr      *manager.Manager
	basePath string
}

// NewRouter constructs a Router with a configurable basePath; "/api" results
// in /api/status, /api/stop and so on.
func NewRouter(mgr *manager.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath)}
}

// Handler returns a gin-powered http.Handler that can be mounted anywhere.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealthz)
	group.POST("/stop", r.handleStop)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, mgr *manager.Manager) *http.Server {
	r := NewRouter(mgr, basePath)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.mgr.Status())
}

func (r *Router) handleHealthz(c *gin.Context) {
	st := r.mgr.State()
	if st == manager.StateRunning {
		c.JSON(http.StatusOK, okResp{OK: true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "state": st})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.mgr.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func sanitizeBase(basePath string) string {
	bp := strings.TrimSpace(basePath)
	if bp == "" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimSuffix(bp, "/")
}
