package server

import (
	"context"
	"net"

	"github.com/kstaniek/go-bxcan/internal/cnl"
)

// CannelloniHandshake runs the hello exchange with a freshly accepted client.
func (s *Server) CannelloniHandshake(ctx context.Context, c net.Conn) error {
	return cnl.Handshake(ctx, c, s.opt.handshakeTimeout)
}
