package gateway

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// NewUpgrader builds a websocket upgrader whose CheckOrigin accepts any
// request when allowedOrigins is empty, and otherwise only requests whose
// Origin header exactly matches one of allowedOrigins. The Connection FSM
// re-checks the origin again at auth time, since the handshake itself
// happens before a client has proven it holds a valid API key.
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
}

// Handler upgrades incoming HTTP requests to websocket connections and hands
// each one to [Serve].
type Handler struct {
	deps     Deps
	upgrader websocket.Upgrader
}

// NewHandler returns a Handler serving connections with deps.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps, upgrader: NewUpgrader(deps.Config.AllowedOrigins)}
}

// Register adds the websocket route to mux.
func (h *Handler) Register(mux *http.ServeMux, pattern string) {
	mux.HandleFunc(pattern, h.ServeHTTP)
}

// ServeHTTP upgrades the request and serves the connection for as long as it
// stays open.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("gateway: websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	Serve(conn, h.deps, r.Header.Get("Origin"))
}
