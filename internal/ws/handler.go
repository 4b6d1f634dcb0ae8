package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/statboard/internal/engine"
	"github.com/DoyleJ11/statboard/internal/hub"
	"github.com/DoyleJ11/statboard/internal/types"
)

const (
	outboxSize   = 8
	writeTimeout = 3 * time.Second
	// Viewers may leave a page open for a long time without clicking.
	idleTimeout = 10 * time.Minute
)

// Navigator handles decoded navigation actions for one viewer.
type Navigator interface {
	Handle(ctx context.Context, viewerID string, cmd engine.Command)
}

// Handler upgrades to a websocket and binds it to a fresh viewer. Renders
// for the viewer arrive through the hub; every frame the viewer sends is
// decoded into a navigation command here and nowhere else.
func Handler(h *hub.Hub, nav Navigator, originPatterns []string, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		viewerID := uuid.NewString()
		log := logger.With(zap.String("viewer", viewerID))
		out := make(chan types.Render, outboxSize)

		select {
		case h.Inbox() <- hub.Join{ViewerID: viewerID, Outbox: out}:
		case <-h.Done():
			conn.Close(websocket.StatusTryAgainLater, "shutting down")
			return
		}
		log.Info("viewer connected")

		defer func() {
			// The viewer is gone whatever state it was in.
			nav.Handle(context.Background(), viewerID, engine.Command{Type: engine.CmdDisconnect})
			select {
			case h.Inbox() <- hub.Leave{ViewerID: viewerID, Outbox: out}:
			case <-h.Done():
			}
			log.Info("viewer disconnected")
		}()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for render := range out {
				if err := write(writeCtx, conn, types.ServerMessage{Type: "Render", Render: &render}); err != nil {
					log.Debug("render write failed", zap.Error(err))
				}
			}
			// The hub closed the outbox: the viewer fell behind or the
			// server is stopping. Unblock the reader below.
			if writeCtx.Err() == nil {
				conn.Close(websocket.StatusGoingAway, "outbox closed")
			}
		}()

		nav.Handle(r.Context(), viewerID, engine.Command{Type: engine.CmdOpenRoot})

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(r.Context(), idleTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read failed", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = write(r.Context(), conn, types.ServerMessage{Type: "Error", Error: "bad json"})
				continue
			}

			cmd, ok := toCommand(cm)
			if !ok {
				_ = write(r.Context(), conn, types.ServerMessage{Type: "Error", Error: "unknown type"})
				continue
			}

			nav.Handle(r.Context(), viewerID, cmd)
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

// toCommand maps a client frame onto a navigation command. Load completions
// and disconnects are never accepted from the wire.
func toCommand(m types.ClientMessage) (engine.Command, bool) {
	switch engine.CommandType(m.Type) {
	case engine.CmdOpenRoot:
		return engine.Command{Type: engine.CmdOpenRoot}, true
	case engine.CmdSelectCategory:
		if m.Category == "" {
			return engine.Command{}, false
		}
		return engine.Command{Type: engine.CmdSelectCategory, Category: m.Category}, true
	case engine.CmdNextPage:
		return engine.Command{Type: engine.CmdNextPage}, true
	case engine.CmdPreviousPage:
		return engine.Command{Type: engine.CmdPreviousPage}, true
	case engine.CmdBack:
		return engine.Command{Type: engine.CmdBack}, true
	default:
		return engine.Command{}, false
	}
}
