package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mkrph/quizarena/internal/battle"
	"github.com/mkrph/quizarena/internal/obslog"
)

// NewOpsHandler serves the operational surface on its own listener:
// prometheus metrics plus the WebSocket push channel, the subscribe half
// of the poll-or-subscribe contract.
func NewOpsHandler(mgr *battle.Manager) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/battle/", func(w http.ResponseWriter, r *http.Request) {
		serveEvents(mgr, w, r)
	})
	return mux
}

// serveEvents streams battle-view frames for /battle/{id}/events. A frame
// goes out on every published state change and on a slow tick; the tick
// also keeps the lazy deadline monitors running while someone watches.
func serveEvents(mgr *battle.Manager, w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/battle/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] != "events" {
		http.NotFound(w, r)
		return
	}
	battleID := parts[0]
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		userID = strings.TrimSpace(r.URL.Query().Get("user"))
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.String("battle_id", battleID), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	ctx := r.Context()
	sub := mgr.SubscribeEvents(ctx, battleID)
	defer func() { _ = sub.Close() }()

	push := func() bool {
		view, err := mgr.GetState(ctx, battleID, userID)
		if err != nil {
			return false
		}
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return wsjson.Write(wctx, conn, view) == nil
	}
	if !push() {
		conn.Close(websocket.StatusPolicyViolation, "battle not found")
		return
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case _, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if !push() { return }
		case <-ticker.C:
			if !push() { return }
		}
	}
}
