package proxy

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goodtune/pac-router/internal/rules"
)

// Router decides the route for a request. *rules.Router implements it.
type Router interface {
	Lookup(url, host string) rules.Result
}

// Handler is the main proxy HTTP handler.
type Handler struct {
	router      Router
	logger      *slog.Logger
	dialTimeout time.Duration
	// transports caches one http.Transport per upstream route so
	// connections to the same upstream are pooled.
	transports sync.Map
}

// NewHandler creates a new proxy handler.
func NewHandler(router Router, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{router: router, logger: logger, dialTimeout: 10 * time.Second}
}

// ServeHTTP routes requests to the appropriate handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		h.handleTunnel(w, r)
		return
	}
	h.handleForward(w, r)
}
