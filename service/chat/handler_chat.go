package chat

import (
	"telechat/logger"
)

// chatHandler fans one inbound chat frame out to its declared recipients.
//
// Delivery here is at-most-once with no durability: offline recipients get
// nothing and nothing is queued or retried. They catch up by reading history
// through the REST layer on their next session. The client is responsible
// for also performing the durable REST write; a live-only send is lost on
// reconnect.
type chatHandler struct{}

func (chatHandler) Handle(ctx *HandlerCtx, sender *Conn, payload map[string]any) {
	p, err := decodePayload[ChatInbound](payload)
	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		// error to the sender only, no fan-out attempted
		if werr := sender.WriteJSON(BuildError("missing required fields for chat message")); werr != nil {
			logger.Infof("[ws] error frame write failed identity=%s err=%v", sender.IdentityID, werr)
		}
		return
	}

	deliver := BuildChatDeliver(p, sender)

	// deliveredToOnline is presence at fan-out time, not write success; a
	// recipient whose socket dies mid-write is indistinguishable from one
	// that disconnects right after, and neither is retried.
	delivered := false
	for _, rid := range p.Recipients {
		rc, ok := ctx.S.Conns().Lookup(rid)
		if !ok {
			logger.Debug("[ws] recipient offline, will catch up via history")
			continue
		}
		delivered = true
		if werr := rc.WriteJSON(deliver); werr != nil {
			logger.Infof("[ws] deliver failed recipient=%s err=%v", rid, werr)
		}
	}

	if werr := sender.WriteJSON(BuildAck(p.MessageID, p.ConversationID, delivered)); werr != nil {
		logger.Infof("[ws] ack write failed identity=%s err=%v", sender.IdentityID, werr)
	}
}
