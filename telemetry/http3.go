package telemetry

import (
	"crypto/tls"
	"net"
	"net/http"

	http3 "github.com/quic-go/quic-go/http3"
)

// HTTP3Server wraps the HTTP/3 lifecycle for the telemetry endpoint,
// for environments where the exposition must ride the same transport
// stack as the embedding runtime.
type HTTP3Server struct {
	pc   net.PacketConn
	srv  *http3.Server
	addr string
	errC chan error
}

// NewHTTP3Server creates a server bound to addr with the given TLS
// config and handler. TLS 1.3 is enforced as QUIC requires.
func NewHTTP3Server(addr string, tlsCfg *tls.Config, h http.Handler) *HTTP3Server {
	if tlsCfg == nil {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS13, NextProtos: []string{"h3"}}
	} else if tlsCfg.MinVersion == 0 || tlsCfg.MinVersion < tls.VersionTLS13 {
		c := tlsCfg.Clone()
		c.MinVersion = tls.VersionTLS13
		if len(c.NextProtos) == 0 {
			c.NextProtos = []string{"h3"}
		}
		tlsCfg = c
	}

	s := &http3.Server{Addr: addr, TLSConfig: tlsCfg, Handler: h}
	return &HTTP3Server{srv: s, addr: addr, errC: make(chan error, 1)}
}

// Start begins serving HTTP/3; with a ":0" address an ephemeral UDP
// port is chosen. Use Addr for the bound address.
func (s *HTTP3Server) Start() (string, error) {
	var err error
	s.pc, err = net.ListenPacket("udp", s.addr)
	if err != nil {
		return "", err
	}
	s.addr = s.pc.LocalAddr().String()
	go func() {
		s.errC <- s.srv.Serve(s.pc)
	}()
	return s.addr, nil
}

// Addr returns the bound address.
func (s *HTTP3Server) Addr() string { return s.addr }

// Close stops the server and releases the socket.
func (s *HTTP3Server) Close() error {
	err := s.srv.Close()
	if s.pc != nil {
		_ = s.pc.Close()
	}
	return err
}
