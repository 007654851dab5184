package chat

import (
	"telechat/logger"
)

// HandlerCtx is what a frame handler gets to work with. Handlers route and
// acknowledge only; durable writes belong to the REST layer.
type HandlerCtx struct {
	S *Server
}

type FrameHandler interface {
	Handle(ctx *HandlerCtx, sender *Conn, payload map[string]any)
}

// Dispatcher maps a frame type to its handler. Unknown types are dropped
// with a log line, never an error to the peer.
type Dispatcher struct {
	handlers map[string]FrameHandler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]FrameHandler)}
}

func (d *Dispatcher) Register(frameType string, h FrameHandler) {
	d.handlers[frameType] = h
}

func (d *Dispatcher) Get(frameType string) FrameHandler {
	return d.handlers[frameType]
}

// Dispatch runs the registered handler for frameType against the sender's
// connection. A bad frame reports via an error frame and the loop continues;
// it never tears the connection down.
func (d *Dispatcher) Dispatch(s *Server, sender *Conn, frameType string, payload map[string]any) {
	h := d.Get(frameType)
	if h == nil {
		logger.Infof("[ws] no handler for frame type=%q identity=%s", frameType, sender.IdentityID)
		return
	}
	h.Handle(&HandlerCtx{S: s}, sender, payload)
}
