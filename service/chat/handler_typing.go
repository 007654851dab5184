package chat

import (
	"telechat/logger"
)

// typingHandler forwards a typing indicator to every online recipient.
// No acknowledgement, no persistence.
type typingHandler struct{}

func (typingHandler) Handle(ctx *HandlerCtx, sender *Conn, payload map[string]any) {
	p, err := decodePayload[TypingInbound](payload)
	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		if werr := sender.WriteJSON(BuildError("missing required fields for typing indicator")); werr != nil {
			logger.Infof("[ws] error frame write failed identity=%s err=%v", sender.IdentityID, werr)
		}
		return
	}

	frame := BuildTyping(p, sender)
	for _, rid := range p.Recipients {
		if rc, ok := ctx.S.Conns().Lookup(rid); ok {
			if werr := rc.WriteJSON(frame); werr != nil {
				logger.Infof("[ws] typing forward failed recipient=%s err=%v", rid, werr)
			}
		}
	}
}
