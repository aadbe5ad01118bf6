package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hermesync/hermesync/internal/core/ecs"
	"github.com/hermesync/hermesync/internal/core/observability/log"
	"github.com/hermesync/hermesync/internal/core/world"
	"github.com/hermesync/hermesync/pkg/concurrent"
	"github.com/hermesync/hermesync/pkg/sequence"
)

// Server is the event ingress gateway. It accepts frames over websocket and
// QUIC, resolves the named entity in its World and forwards the event to the
// dispatch pipeline. A frame is acknowledged once the pipeline accepts it,
// not when its handlers finish.
type Server struct {
	cfg   Config
	world *world.World
	log   log.Log

	httpServer *http.Server
	quic       *quicListener

	sessions    sync.Map // uuid.UUID -> *session
	clientCount atomic.Int64

	framesAccepted atomic.Uint64
	framesRejected atomic.Uint64
	startedAt      time.Time

	running atomic.Bool
	closed  atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// session is one connected client on either transport.
type session struct {
	id          uuid.UUID
	transport   string
	remoteAddr  string
	connectedAt time.Time
	lastSeen    atomic.Int64
	closeConn   func() error
}

func (s *session) touch() { s.lastSeen.Store(time.Now().UnixNano()) }

func (s *session) seenAt() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// Stats is a point-in-time snapshot of the gateway counters.
type Stats struct {
	Clients        int64
	FramesAccepted uint64
	FramesRejected uint64
	Uptime         time.Duration
}

// NewServer creates a gateway in front of the given World.
func NewServer(cfg Config, w *world.World, logger log.Log) *Server {
	if logger == nil {
		logger = log.New(cfg.Level())
	}
	return &Server{
		cfg:   cfg,
		world: w,
		log:   logger.With(log.String("component", "gateway")),
	}
}

// Start binds the configured listeners and begins accepting clients.
func (s *Server) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}
	s.startedAt = time.Now()
	s.done = make(chan struct{})

	if s.cfg.WebSocketAddr != "" {
		if err := s.startWebSocket(); err != nil {
			s.running.Store(false)
			return fmt.Errorf("%w: %v", ErrListenerFailed, err)
		}
		s.log.Info("websocket listener started", log.String("addr", s.cfg.WebSocketAddr))
	}
	if s.cfg.QUICAddr != "" {
		ql, err := newQUICListener(s)
		if err != nil {
			s.running.Store(false)
			s.shutdownHTTP(ctx)
			return fmt.Errorf("%w: %v", ErrListenerFailed, err)
		}
		s.quic = ql
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ql.acceptLoop()
		}()
		s.log.Info("quic listener started", log.String("addr", s.cfg.QUICAddr))
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.healthMonitor()
	}()
	return nil
}

// Stop drains the listeners and disconnects every client.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrServerNotRunning
	}
	close(s.done)

	s.shutdownHTTP(ctx)
	if s.quic != nil {
		s.quic.close()
	}
	var open []*session
	s.sessions.Range(func(_, v any) bool {
		open = append(open, v.(*session))
		return true
	})
	concurrent.ParallelMute(sequence.From(open), func(sess *session) error {
		return sess.closeConn()
	})
	s.wg.Wait()
	s.log.Info("gateway stopped",
		log.Uint64("frames_accepted", s.framesAccepted.Load()),
		log.Uint64("frames_rejected", s.framesRejected.Load()))
	return nil
}

// Close stops the gateway and marks it unusable.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrServerClosed
	}
	if !s.running.Load() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Stop(ctx)
}

// World returns the World this gateway feeds.
func (s *Server) World() *world.World { return s.world }

// Stats returns the current gateway counters.
func (s *Server) Stats() Stats {
	return Stats{
		Clients:        s.clientCount.Load(),
		FramesAccepted: s.framesAccepted.Load(),
		FramesRejected: s.framesRejected.Load(),
		Uptime:         time.Since(s.startedAt),
	}
}

func (s *Server) shutdownHTTP(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown", log.Error(err))
	}
}

// register admits a new client session, enforcing the client cap.
func (s *Server) register(transport, remoteAddr string, closeConn func() error) (*session, error) {
	if n := s.clientCount.Load(); n >= int64(s.cfg.MaxClients) {
		return nil, ErrMaxClientsReached
	}
	sess := &session{
		id:          uuid.New(),
		transport:   transport,
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
		closeConn:   closeConn,
	}
	sess.touch()
	s.sessions.Store(sess.id, sess)
	s.clientCount.Add(1)
	s.log.Debug("client connected",
		log.String("client", sess.id.String()),
		log.String("transport", transport),
		log.String("remote", remoteAddr))
	return sess, nil
}

func (s *Server) unregister(sess *session) {
	if _, loaded := s.sessions.LoadAndDelete(sess.id); !loaded {
		return
	}
	s.clientCount.Add(-1)
	s.log.Debug("client disconnected",
		log.String("client", sess.id.String()),
		log.Duration("connected_for", time.Since(sess.connectedAt)))
}

// handleFrame decodes one frame, resolves its entity by name and hands the
// event to the World.
func (s *Server) handleFrame(sess *session, data []byte) Reply {
	sess.touch()
	var f Frame
	if err := f.Deserialize(data); err != nil {
		s.framesRejected.Add(1)
		return rejected(fmt.Errorf("%w: %v", ErrInvalidMessage, err))
	}
	if err := f.Validate(); err != nil {
		s.framesRejected.Add(1)
		return rejected(err)
	}
	e, _, ok := s.world.Context().FetchName(f.Entity)
	if !ok {
		s.framesRejected.Add(1)
		return rejected(fmt.Errorf("%w: %q", ecs.ErrEntityNotFound, f.Entity))
	}
	if err := s.world.Send(e, f.Event, f.Args); err != nil {
		s.framesRejected.Add(1)
		if errors.Is(err, ecs.ErrEntityNotFound) {
			return rejected(fmt.Errorf("%w: %q", ecs.ErrEntityNotFound, f.Entity))
		}
		return rejected(err)
	}
	s.framesAccepted.Add(1)
	return accepted(f.Event)
}

// healthMonitor periodically evicts idle clients and reports load.
func (s *Server) healthMonitor() {
	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictIdle()
			s.log.Debug("gateway health",
				log.Int64("clients", s.clientCount.Load()),
				log.Uint64("frames_accepted", s.framesAccepted.Load()),
				log.Uint64("frames_rejected", s.framesRejected.Load()),
				log.Uint64("events_pending", s.world.Pending()))
		case <-s.done:
			return
		}
	}
}

func (s *Server) evictIdle() {
	cutoff := time.Now().Add(-s.cfg.ClientTimeout)
	s.sessions.Range(func(_, v any) bool {
		sess := v.(*session)
		if sess.seenAt().Before(cutoff) {
			s.log.Debug("evicting idle client", log.String("client", sess.id.String()))
			_ = sess.closeConn()
			s.unregister(sess)
		}
		return true
	})
}
