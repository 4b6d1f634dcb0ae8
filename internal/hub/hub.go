package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/statboard/internal/types"
)

type Msg interface{ isHubMsg() }

// Join registers a viewer. Renders addressed to ViewerID are written to
// Outbox until the viewer leaves or falls behind.
type Join struct {
	ViewerID string
	Outbox   chan types.Render
}

// Leave unregisters a viewer, but only if Outbox is still the one it joined
// with.
type Leave struct {
	ViewerID string
	Outbox   chan types.Render
}

type Deliver struct {
	Render types.Render
}

type GetView struct {
	Reply chan View
}

type Shutdown struct{}

func (Join) isHubMsg()     {}
func (Leave) isHubMsg()    {}
func (Deliver) isHubMsg()  {}
func (GetView) isHubMsg()  {}
func (Shutdown) isHubMsg() {}

type View struct {
	NumViewers int
	Delivered  uint64
	Dropped    uint64
}

// Hub owns every connected viewer's outbox. All access goes through the
// inbox so outboxes are only ever written and closed by the loop.
type Hub struct {
	inbox   chan Msg
	viewers map[string]chan types.Render
	logger  *zap.Logger

	delivered uint64
	dropped   uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(parent context.Context, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		inbox:   make(chan Msg, 64),
		viewers: make(map[string]chan types.Render),
		logger:  logger.Named("hub"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- Msg { return h.inbox }

// Done is closed once the loop has exited and every outbox is closed.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Present queues r for delivery to its viewer. It gives up once the hub has
// shut down.
func (h *Hub) Present(r types.Render) {
	select {
	case h.inbox <- Deliver{Render: r}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Join:
				if old, ok := h.viewers[msg.ViewerID]; ok && old != msg.Outbox {
					close(old)
				}
				h.viewers[msg.ViewerID] = msg.Outbox

			case Leave:
				if ch, ok := h.viewers[msg.ViewerID]; ok && ch == msg.Outbox {
					close(ch)
					delete(h.viewers, msg.ViewerID)
				}

			case Deliver:
				h.deliver(msg.Render)

			case GetView:
				msg.Reply <- View{
					NumViewers: len(h.viewers),
					Delivered:  h.delivered,
					Dropped:    h.dropped,
				}

			case Shutdown:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) deliver(r types.Render) {
	ch, ok := h.viewers[r.ViewerID]
	if !ok {
		// The viewer left while its render was being built.
		h.logger.Debug("render for unknown viewer", zap.String("viewer", r.ViewerID))
		return
	}
	select {
	case ch <- r:
		h.delivered++
	default:
		// Viewer is slow/full - drop them.
		h.logger.Warn("dropping slow viewer", zap.String("viewer", r.ViewerID))
		close(ch)
		delete(h.viewers, r.ViewerID)
		h.dropped++
	}
}

func (h *Hub) shutdown() {
	for id, ch := range h.viewers {
		close(ch)
		delete(h.viewers, id)
	}
	h.cancel()
}
