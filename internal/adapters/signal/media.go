package signal

import (
	"context"

	"github.com/dkeye/One2Many/internal/core"
	"github.com/rs/zerolog/log"
)

// handleStart begins a standalone recording. Nothing is sent back on
// success; a bad request is echoed as an error.
func (ctl *SignalWSController) handleStart(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte, msg inbound) {
	req := startRequest{FileName: msg.FileName}
	if err := ctl.allow(sid, "start"); err != nil {
		sendJSON(c, errorMessage{ID: "error", Message: err.Error()})
		return
	}
	if err := ctl.checkRequest(req); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad start request")
		ctl.invalid(c, data)
		return
	}
	go func() {
		_ = ctl.Orch.StartRecording(ctx, sid, req.FileName)
	}()
}

func (ctl *SignalWSController) handlePlay(ctx context.Context, sid core.SessionID, c *WsSignalConn, msg inbound) {
	const id = "play"
	req := playRequest{SDPOffer: msg.SDPOffer, FileName: msg.FileName}
	if err := ctl.allow(sid, "play"); err != nil {
		ctl.reply(c, id, "", err)
		return
	}
	if err := ctl.checkRequest(req); err != nil {
		ctl.reply(c, id, "", err)
		return
	}

	ctl.Orch.ResetCandidates(sid)
	go func() {
		answer, err := ctl.Orch.Play(ctx, sid, c, req.SDPOffer, req.FileName)
		ctl.reply(c, id, answer, err)
	}()
}
