// Package server is the HTTP surface of the router: an OpenAI-compatible
// completion endpoint, a tiered ask endpoint, and the management API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tierd-ai/tierd/pkg/acl"
	"github.com/tierd-ai/tierd/pkg/arbiter"
	"github.com/tierd-ai/tierd/pkg/audit"
	"github.com/tierd-ai/tierd/pkg/budget"
	"github.com/tierd-ai/tierd/pkg/cache"
	"github.com/tierd-ai/tierd/pkg/config"
	"github.com/tierd-ai/tierd/pkg/engine"
	"github.com/tierd-ai/tierd/pkg/health"
	"github.com/tierd-ai/tierd/pkg/history"
	"github.com/tierd-ai/tierd/pkg/lock"
	"github.com/tierd-ai/tierd/pkg/models"
	"github.com/tierd-ai/tierd/pkg/provider"
	"github.com/tierd-ai/tierd/pkg/selector"
	"github.com/tierd-ai/tierd/pkg/stats"
)

// Server routes HTTP requests to the router components.
type Server struct {
	cfg      *config.Config
	acl      *acl.Checker
	arbiter  *arbiter.Arbiter
	budget   *budget.Limiter
	engine   *engine.Engine
	registry *provider.Registry
	selector *selector.Selector
	locks    *lock.Store
	stats    *stats.Recorder
	health   *health.Checker
	history  history.Store
	auditor  *audit.Logger
	answers  *cache.Cache[string]
	mux      *http.ServeMux

	// runtime custom keyword overlay, seeded from config
	kwMu       sync.Mutex
	customHigh []string
	customFast []string
}

// Deps carries everything a Server needs. History and Auditor may be nil.
type Deps struct {
	Config   *config.Config
	ACL      *acl.Checker
	Arbiter  *arbiter.Arbiter
	Budget   *budget.Limiter
	Engine   *engine.Engine
	Registry *provider.Registry
	Selector *selector.Selector
	Locks    *lock.Store
	Stats    *stats.Recorder
	Health   *health.Checker
	History  history.Store
	Auditor  *audit.Logger
}

// New creates a Server wired with all dependencies.
func New(d Deps) *Server {
	s := &Server{
		cfg:        d.Config,
		acl:        d.ACL,
		arbiter:    d.Arbiter,
		budget:     d.Budget,
		engine:     d.Engine,
		registry:   d.Registry,
		selector:   d.Selector,
		locks:      d.Locks,
		stats:      d.Stats,
		health:     d.Health,
		history:    d.History,
		auditor:    d.Auditor,
		answers:    cache.New[string](),
		mux:        http.NewServeMux(),
		customHigh: append([]string(nil), d.Config.Rules.CustomHigh...),
		customFast: append([]string(nil), d.Config.Rules.CustomFast...),
	}
	s.mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	s.mux.HandleFunc("/v1/ask", s.handleAsk)
	s.mux.HandleFunc("/v1/status", s.handleStatus)
	s.mux.HandleFunc("/v1/stats", s.handleStats)
	s.mux.HandleFunc("/v1/explain", s.handleExplain)
	s.mux.HandleFunc("/v1/lock", s.handleLock)
	s.mux.HandleFunc("/v1/judge", s.handleJudge)
	s.mux.HandleFunc("/v1/dryrun", s.handleDryRun)
	s.mux.HandleFunc("/v1/health", s.handleHealth)
	s.mux.HandleFunc("/v1/rules", s.handleRules)
	s.mux.Handle("/metrics", promhttp.Handler())
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("tierd listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// identity builds the caller identity from request headers, falling back
// to the bearer token as the session key.
func identityFrom(r *http.Request) models.Identity {
	id := models.Identity{
		Session: r.Header.Get("X-Tierd-Session"),
		Group:   r.Header.Get("X-Tierd-Group"),
		Sender:  r.Header.Get("X-Tierd-Sender"),
	}
	if id.Session == "" {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			id.Session = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return id
}

// allowCommand gates an admin handler by the command-tier ACL.
func (s *Server) allowCommand(w http.ResponseWriter, r *http.Request, command string) bool {
	if !s.acl.AllowCommand(identityFrom(r), command) {
		writeJSONError(w, http.StatusForbidden, "session is not allowed to use this command")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"tierd_error","code":%d}}`, message, code)
}
