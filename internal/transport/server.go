package transport

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"replicore/internal/logging"
)

// localHosts are always accepted as WebSocket origins to keep local
// development workflows unblocked regardless of the configured allowlist.
var localHosts = map[string]struct{}{
	"127.0.0.1": {},
	"localhost": {},
	"::1":       {},
}

// buildOriginChecker returns an Upgrader.CheckOrigin function that accepts
// only origins present in allowlist (plus localhost), logging rejections.
func buildOriginChecker(log *logging.Logger, allowlist []string) func(*http.Request) bool {
	if log == nil {
		log = logging.L()
	}
	allowed := make(map[string]struct{}, len(allowlist))
	for _, origin := range allowlist {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			log.Warn("ignoring invalid allowed origin", logging.String("origin", origin), logging.Error(err))
			continue
		}
		allowed[strings.ToLower(u.Scheme+"://"+u.Host)] = struct{}{}
	}

	return func(r *http.Request) bool {
		originHeader := r.Header.Get("Origin")
		if originHeader == "" {
			return false
		}
		originURL, err := url.Parse(originHeader)
		if err != nil || originURL.Host == "" {
			log.Warn("rejecting request with invalid origin", logging.String("origin", originHeader), logging.Error(err))
			return false
		}
		if _, ok := localHosts[originURL.Hostname()]; ok {
			return true
		}
		key := strings.ToLower(originURL.Scheme + "://" + originURL.Host)
		if _, ok := allowed[key]; ok {
			return true
		}
		log.Warn("rejecting request from disallowed origin", logging.String("origin", originHeader))
		return false
	}
}

// NewUpgrader builds a websocket.Upgrader restricted to allowedOrigins
// (plus localhost) and bounded by maxPayloadBytes.
func NewUpgrader(allowedOrigins []string, log *logging.Logger) *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: buildOriginChecker(log, allowedOrigins),
	}
}

// Accept upgrades an inbound HTTP request to a WebSocket connection and
// wraps it as a channel.Transport. Callers typically register this as an
// http.HandlerFunc's body, one call per accepted peer.
func Accept(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request, maxPayloadBytes int64, log *logging.Logger, pingInterval time.Duration) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	if maxPayloadBytes > 0 {
		conn.SetReadLimit(maxPayloadBytes)
	}
	return New(conn, log, pingInterval), nil
}
