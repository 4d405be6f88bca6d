package signal

import (
	"context"

	"github.com/dkeye/One2Many/internal/core"
	"github.com/dkeye/One2Many/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) reply(c core.SignalConnection, id, answer string, err error) {
	if err != nil {
		sendJSON(c, response{ID: id, Response: rejected, Message: err.Error()})
		return
	}
	sendJSON(c, response{ID: id, Response: accepted, SDPAnswer: answer})
}

func (ctl *SignalWSController) allow(sid core.SessionID, kind string) error {
	if ctl.Limiter == nil {
		return nil
	}
	wait, ok := ctl.Limiter.Allow(sid, kind)
	if ok {
		return nil
	}
	log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("kind", kind).Dur("retry_after", wait).Msg("rate limited")
	return domain.ErrRateLimited
}

// handlePresenter claims the slot before returning so that a second claim
// read right after this one is already rejected. Negotiation runs on its own.
// A malformed request is refused before the slot is looked at.
func (ctl *SignalWSController) handlePresenter(ctx context.Context, sid core.SessionID, c *WsSignalConn, msg inbound) {
	const id = "presenterResponse"
	req := presenterRequest{SDPOffer: msg.SDPOffer, FileName: msg.FileName}
	if err := ctl.allow(sid, "presenter"); err != nil {
		ctl.reply(c, id, "", err)
		return
	}
	if err := ctl.checkRequest(req); err != nil {
		ctl.reply(c, id, "", err)
		return
	}

	rec, err := ctl.Orch.ClaimPresenter(sid, c)
	if err != nil {
		ctl.reply(c, id, "", err)
		return
	}
	go func() {
		answer, err := ctl.Orch.NegotiatePresenter(ctx, rec, req.SDPOffer, req.FileName)
		ctl.reply(c, id, answer, err)
	}()
}

func (ctl *SignalWSController) handleViewer(ctx context.Context, sid core.SessionID, c *WsSignalConn, msg inbound) {
	const id = "viewerResponse"
	req := viewerRequest{SDPOffer: msg.SDPOffer}
	if err := ctl.allow(sid, "viewer"); err != nil {
		ctl.reply(c, id, "", err)
		return
	}
	if err := ctl.checkRequest(req); err != nil {
		ctl.reply(c, id, "", err)
		return
	}

	ctl.Orch.ResetCandidates(sid)
	go func() {
		answer, err := ctl.Orch.StartViewer(ctx, sid, c, req.SDPOffer)
		ctl.reply(c, id, answer, err)
	}()
}
