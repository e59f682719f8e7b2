package localapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/maintrack/offsync/internal/domain"
	"github.com/maintrack/offsync/internal/ports"
)

const writeTimeout = 5 * time.Second

// eventMessage is one frame on the /v1/events stream.
type eventMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	State     string    `json:"state"`
	From      string    `json:"from,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// handleEvents streams connectivity to one WebSocket client: the current
// state first, then every transition until either side goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", ports.Err(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// CloseRead handles control frames and cancels ctx once the peer leaves.
	ctx := conn.CloseRead(r.Context())

	hello := eventMessage{
		Type:      "state",
		Timestamp: s.now(),
		State:     s.svc.Connectivity().String(),
	}
	if err := writeEvent(ctx, conn, hello); err != nil {
		return
	}

	for tr := range s.svc.Subscribe(ctx) {
		if err := writeEvent(ctx, conn, transitionMessage(tr)); err != nil {
			s.logger.Debug("event stream closed", ports.Err(err))
			return
		}
	}
}

func transitionMessage(tr domain.Transition) eventMessage {
	return eventMessage{
		Type:      "transition",
		Timestamp: tr.At,
		State:     tr.To.String(),
		From:      tr.From.String(),
		Reason:    tr.Reason,
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, msg eventMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
