package coordinatord

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/aodhgan/closest-number/coordinator"
)

const (
	wsWriteTimeout  = 10 * time.Second
	feedBufferDepth = 32
)

// feedHub fans round events out to websocket subscribers. Publish never
// blocks; slow subscribers drop events.
type feedHub struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func newFeedHub(log *slog.Logger) *feedHub {
	if log == nil {
		log = slog.Default()
	}
	return &feedHub{log: log, subs: make(map[chan []byte]struct{})}
}

// Publish is wired as the coordinator's event sink. It runs inside the guess
// submission critical section and must stay non-blocking.
func (h *feedHub) Publish(evt coordinator.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.log.Warn("encode feed event", "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (h *feedHub) subscribe() (chan []byte, func()) {
	ch := make(chan []byte, feedBufferDepth)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *feedHub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := h.stream(r.Context(), conn); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *feedHub) stream(ctx context.Context, conn *websocket.Conn) error {
	events, cancel := h.subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-events:
			writeCtx, cancelWrite := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			cancelWrite()
			if err != nil {
				return err
			}
		}
	}
}
