package chat

import (
	"context"
	"time"

	"telechat/module/identity"
)

// DisplayNames resolves a display name for an identity ref, degrading to a
// placeholder instead of failing. identity.Directory satisfies it.
type DisplayNames interface {
	DisplayName(ctx context.Context, ref identity.Ref) string
}

// Presence records connect/disconnect times for the online-status endpoint.
// Optional; a nil presence store disables last-seen tracking.
type Presence interface {
	MarkOnline(ctx context.Context, identityID string) error
	MarkOffline(ctx context.Context, identityID string) error
	LastSeen(ctx context.Context, identityID string) (time.Time, error)
}

// Server is the gateway: it owns the connection registry, authenticates new
// sockets through the identity resolver and dispatches inbound frames.
type Server struct {
	conns    *ConnManager
	resolver *identity.Resolver
	names    DisplayNames
	presence Presence
	disp     *Dispatcher
}

func NewServer(conns *ConnManager, resolver *identity.Resolver, names DisplayNames, presence Presence) *Server {
	disp := NewDispatcher()
	disp.Register(FrameChat, chatHandler{})
	disp.Register(FrameTyping, typingHandler{})
	disp.Register(FrameRead, readHandler{})
	return &Server{
		conns:    conns,
		resolver: resolver,
		names:    names,
		presence: presence,
		disp:     disp,
	}
}

func (s *Server) Conns() *ConnManager { return s.conns }
func (s *Server) Disp() *Dispatcher   { return s.disp }
func (s *Server) Presence() Presence  { return s.presence }

// Notify is the one hook the REST layer may use to push a server-initiated
// frame to an online identity. Best-effort: returns false when the identity
// is offline.
func (s *Server) Notify(identityID, event string, data map[string]any) bool {
	c, ok := s.conns.Lookup(identityID)
	if !ok {
		return false
	}
	return c.WriteJSON(BuildNotification(event, data)) == nil
}
