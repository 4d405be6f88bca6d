package signal

import (
	"context"

	"github.com/dkeye/One2Many/internal/core"
)

func (ctl *SignalWSController) handleStop(sid core.SessionID) {
	ctl.Orch.Stop(sid)
}

func (ctl *SignalWSController) handleCandidate(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte, msg inbound) {
	if msg.Candidate == nil {
		ctl.invalid(c, data)
		return
	}
	ctl.Orch.OnICECandidate(ctx, sid, *msg.Candidate)
}
