package chat

import (
	"telechat/logger"
)

// readHandler forwards a read signal to the original sender's connection.
// This is a live hint only; the durable read receipt is written when the
// reader fetches or marks history through the REST layer.
type readHandler struct{}

func (readHandler) Handle(ctx *HandlerCtx, sender *Conn, payload map[string]any) {
	p, err := decodePayload[ReadInbound](payload)
	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		if werr := sender.WriteJSON(BuildError("missing required fields for read receipt")); werr != nil {
			logger.Infof("[ws] error frame write failed identity=%s err=%v", sender.IdentityID, werr)
		}
		return
	}

	origin, ok := ctx.S.Conns().Lookup(p.SenderID)
	if !ok {
		return
	}
	if werr := origin.WriteJSON(BuildRead(p, sender)); werr != nil {
		logger.Infof("[ws] read signal failed sender=%s err=%v", p.SenderID, werr)
	}
}
