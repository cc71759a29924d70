package server

import (
	"net"
	"sync"

	"go.uber.org/zap"

	"stripedkv/engine"
)

// Config configures a Server.
type Config struct {
	Addr string

	// Workers bounds the number of requests executed against the
	// engine concurrently, across all connections. A slow client
	// holding its connection open does not, by itself, consume a
	// worker slot — only the execution of a decoded request does.
	Workers int

	// MaxMessageBytes bounds the size of a single frame this server
	// will read from a client before rejecting the connection.
	MaxMessageBytes uint32
}

// DefaultWorkers is the reference concurrency bound: the number of
// requests this server will execute against the engine at once.
const DefaultWorkers = 32

// DefaultMaxMessageBytes is the reference per-frame size ceiling.
const DefaultMaxMessageBytes = 128 * 1024 * 1024

/*
Server manages listener lifecycle and client connection goroutines.
*/
type Server struct {
	addr            string
	engine          *engine.Engine
	maxMessageBytes uint32
	log             *zap.SugaredLogger

	// sem bounds concurrent request execution to Workers slots. It is
	// a semaphore acquired per request rather than a fixed pool of
	// goroutines reading off a queue: behaviorally equivalent for
	// bounding concurrency, with one goroutine per connection instead
	// of per worker.
	sem chan struct{}

	ln           net.Listener
	wg           sync.WaitGroup
	ready        chan struct{}
	shuttingDown chan struct{}
}

func NewServer(cfg Config, eng *engine.Engine, log *zap.SugaredLogger) *Server {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	maxMsg := cfg.MaxMessageBytes
	if maxMsg == 0 {
		maxMsg = DefaultMaxMessageBytes
	}

	return &Server{
		addr:            cfg.Addr,
		engine:          eng,
		maxMessageBytes: maxMsg,
		log:             log,
		sem:             make(chan struct{}, workers),
		ready:           make(chan struct{}),
		shuttingDown:    make(chan struct{}),
	}
}

/*
Start begins listening and accepts connections until shutdown.
*/
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		if s.log != nil {
			s.log.Errorw("listen failed", "addr", s.addr, "error", err)
		}
		return err
	}

	s.ln = ln
	close(s.ready)
	if s.log != nil {
		s.log.Infow("listening", "addr", ln.Addr().String())
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shuttingDown:
				return nil
			default:
				return err
			}
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConnection(c)
		}(conn)
	}
}

/*
Stop initiates graceful shutdown: stop accepting new connections, wait
for active handlers to exit.
*/
func (s *Server) Stop() {
	<-s.ready
	close(s.shuttingDown)
	if s.ln != nil {
		s.ln.Close()
	}
	s.wg.Wait()
}

// Addr returns the listener's bound address. Blocks until the listener
// is ready.
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.ln.Addr()
}
