package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/hermesync/hermesync/internal/core/observability/log"
)

// alpnProtocol is the ALPN token both ends of the QUIC transport agree on.
const alpnProtocol = "hermesync-events"

// quicListener accepts QUIC connections and serves one frame per stream.
type quicListener struct {
	srv      *Server
	listener *quic.Listener
	ctx      context.Context
	cancel   context.CancelFunc
}

func newQUICListener(s *Server) (*quicListener, error) {
	tlsConf := s.cfg.TLSConfig
	if tlsConf == nil {
		generated, err := generateSelfSignedTLS()
		if err != nil {
			return nil, err
		}
		tlsConf = generated
	}
	listener, err := quic.ListenAddr(s.cfg.QUICAddr, tlsConf, &quic.Config{
		MaxIdleTimeout:  s.cfg.ClientTimeout,
		KeepAlivePeriod: s.cfg.ClientTimeout / 4,
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &quicListener{srv: s, listener: listener, ctx: ctx, cancel: cancel}, nil
}

func (q *quicListener) close() {
	q.cancel()
	_ = q.listener.Close()
}

func (q *quicListener) acceptLoop() {
	for {
		conn, err := q.listener.Accept(q.ctx)
		if err != nil {
			if q.ctx.Err() == nil {
				q.srv.log.Warn("quic accept failed", log.Error(err))
			}
			return
		}
		q.srv.wg.Add(1)
		go func() {
			defer q.srv.wg.Done()
			q.serveConn(conn)
		}()
	}
}

func (q *quicListener) serveConn(conn *quic.Conn) {
	closeConn := func() error {
		return conn.CloseWithError(0, "closed")
	}
	sess, err := q.srv.register("quic", conn.RemoteAddr().String(), closeConn)
	if err != nil {
		_ = conn.CloseWithError(1, err.Error())
		return
	}
	defer func() {
		_ = closeConn()
		q.srv.unregister(sess)
	}()

	for {
		stream, err := conn.AcceptStream(q.ctx)
		if err != nil {
			return
		}
		q.srv.wg.Add(1)
		go func() {
			defer q.srv.wg.Done()
			q.serveStream(sess, stream)
		}()
	}
}

// serveStream reads exactly one frame from the stream and writes the reply
// back on it.
func (q *quicListener) serveStream(sess *session, stream *quic.Stream) {
	defer func() { _ = stream.Close() }()
	if q.srv.cfg.ReadTimeout > 0 {
		_ = stream.SetReadDeadline(time.Now().Add(q.srv.cfg.ReadTimeout))
	}
	var raw json.RawMessage
	dec := json.NewDecoder(io.LimitReader(stream, q.srv.cfg.MaxMessageSize))
	if err := dec.Decode(&raw); err != nil {
		if !errors.Is(err, io.EOF) {
			q.srv.log.Debug("quic stream decode failed", log.Error(err))
		}
		return
	}
	reply := q.srv.handleFrame(sess, raw)
	if q.srv.cfg.WriteTimeout > 0 {
		_ = stream.SetWriteDeadline(time.Now().Add(q.srv.cfg.WriteTimeout))
	}
	if err := json.NewEncoder(stream).Encode(reply); err != nil {
		q.srv.log.Debug("quic stream write failed", log.Error(err))
	}
}

// generateSelfSignedTLS builds a throwaway certificate for local and
// development deployments.
func generateSelfSignedTLS() (*tls.Config, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"HermeSync"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  privateKey,
		}},
		NextProtos: []string{alpnProtocol},
		MinVersion: tls.VersionTLS13,
	}, nil
}
