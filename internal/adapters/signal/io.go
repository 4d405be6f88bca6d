package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/One2Many/internal/core"
	"github.com/dkeye/One2Many/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	var ping <-chan time.Time
	if ctl.Options.PingPeriod > 0 {
		t := time.NewTicker(ctl.Options.PingPeriod)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("writePump ctx done")
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("writePump write error")
				return
			}
		}
	}
}

// readPump owns the session: when it returns the session is torn down.
func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		c.Close()
		ctl.Orch.Disconnect(sid)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(sid)
		}
	}()

	if p := ctl.Options.PingPeriod; p > 0 {
		pongWait := p * 10 / 9
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			ctl.handleSignal(ctx, sid, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.invalid(c, data)
		return
	}
	metrics.SignallingMessagesTotal.WithLabelValues(msg.ID, "in").Inc()
	log.Debug().Str("module", "signal").Str("sid", string(sid)).Str("id", msg.ID).Msg("message received")

	// In-flight media calls are not cancelled when the socket closes; the
	// orchestration guards discard their results instead.
	octx := context.WithoutCancel(ctx)

	switch msg.ID {
	case "presenter":
		ctl.handlePresenter(octx, sid, c, msg)
	case "viewer":
		ctl.handleViewer(octx, sid, c, msg)
	case "stop":
		ctl.handleStop(sid)
	case "onIceCandidate":
		ctl.handleCandidate(octx, sid, c, data, msg)
	case "start":
		ctl.handleStart(octx, sid, c, data, msg)
	case "play":
		ctl.handlePlay(octx, sid, c, msg)
	default:
		log.Warn().Str("module", "signal").Str("id", msg.ID).Msg("unknown signal")
		ctl.invalid(c, data)
	}
}

// invalid echoes an unusable message back as an error. The connection stays open.
func (ctl *SignalWSController) invalid(c core.SignalConnection, data []byte) {
	var buf bytes.Buffer
	raw := string(data)
	if err := json.Compact(&buf, data); err == nil {
		raw = buf.String()
	}
	sendJSON(c, errorMessage{ID: "error", Message: "Invalid message " + raw})
}

func sendJSON(c core.SignalConnection, v outbound) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("id", v.kind()).Msg("sendJSON dropped")
		return
	}
	metrics.SignallingMessagesTotal.WithLabelValues(v.kind(), "out").Inc()
}
