package observe

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// handlers holds the HTTP handler dependencies.
type handlers struct {
	provider       Provider
	allowedOrigins []string
	wsHub          *wsHub
	logger         *slog.Logger
}

func newHandlers(provider Provider, allowedOrigins []string, hub *wsHub, logger *slog.Logger) *handlers {
	return &handlers{
		provider:       provider,
		allowedOrigins: allowedOrigins,
		wsHub:          hub,
		logger:         logger.With("component", "observe-handlers"),
	}
}

// handleHealthz reports process liveness only; it does not reflect hub
// connection state (that's /api/hub).
func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleBooks returns the current reconciled book per tracked symbol.
func (h *handlers) handleBooks(w http.ResponseWriter, r *http.Request) {
	books := h.provider.Books()
	views := make(map[string]BookView, len(books))
	for symbol, book := range books {
		views[symbol] = NewBookView(book)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		h.logger.Error("observe: failed to encode books", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// handleHubState returns the Manager's current connection state plus
// listener/param-set counts.
func (h *handlers) handleHubState(w http.ResponseWriter, r *http.Request) {
	listeners, paramSets := h.provider.ListenerCount()
	view := HubStateView{
		State:     h.provider.HubState().String(),
		Listeners: listeners,
		ParamSets: paramSets,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		h.logger.Error("observe: failed to encode hub state", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// handleWebSocket upgrades the connection and registers a new viewer.
func (h *handlers) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.allowedOrigins, req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("observe: websocket upgrade failed", "error", err)
		return
	}
	newWSClient(h.wsHub, conn)
}

func isOriginAllowed(origin string, allowedOrigins []string, reqHost string) bool {
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
