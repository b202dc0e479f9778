// Package ws provides the websocket listener and the connection wrapper that
// feeds decoded client messages to the session orchestrator.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/player"
	"github.com/cory-johannsen/arena/internal/protocol"
)

// Handler receives each accepted connection. Implemented by the session
// orchestrator.
type Handler interface {
	Attach(conn player.Conn, inbound <-chan protocol.Inbound) *player.Player
}

// Acceptor listens for websocket upgrades on an HTTP port and hands each
// connection to a Handler.
type Acceptor struct {
	cfg      config.ListenConfig
	handler  Handler
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	running  bool
	wg       sync.WaitGroup
	quit     chan struct{}

	connMu sync.Mutex
	conns  map[*Conn]struct{}
}

// NewAcceptor creates a websocket acceptor with the given configuration.
//
// Precondition: cfg must be validated; handler and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.ListenConfig, handler Handler, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin screening belongs to the edge proxy in this deployment.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		quit:  make(chan struct{}),
		conns: make(map[*Conn]struct{}),
	}
}

// ListenAndServe starts the HTTP listener and serves websocket upgrades until
// Stop is called. This method blocks until the acceptor is stopped.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(a.cfg.Path, a.serveWS)
	server := &http.Server{Handler: mux}

	a.mu.Lock()
	a.listener = listener
	a.server = server
	a.running = true
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", a.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		select {
		case <-a.quit:
			return nil
		default:
			return fmt.Errorf("serving websocket upgrades: %w", err)
		}
	}
	return nil
}

// serveWS upgrades one HTTP request and runs the connection until the socket dies.
func (a *Acceptor) serveWS(w http.ResponseWriter, r *http.Request) {
	sock, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	a.wg.Add(1)
	defer a.wg.Done()

	start := time.Now()
	conn := NewConn(sock, a.cfg.WriteTimeout, a.cfg.PongWait, a.cfg.MaxMessageBytes)
	a.trackConn(conn, true)
	defer func() {
		a.trackConn(conn, false)
		_ = conn.Close()
	}()

	a.logger.Info("client connected", zap.String("remote_addr", conn.RemoteAddr()))

	inbound := make(chan protocol.Inbound, a.cfg.EventBuffer)
	a.handler.Attach(conn, inbound)

	go conn.pingLoop()
	conn.readLoop(inbound)

	a.logger.Info("client disconnected",
		zap.String("remote_addr", conn.RemoteAddr()),
		zap.Duration("duration", time.Since(start)),
	)
}

func (a *Acceptor) trackConn(c *Conn, add bool) {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if add {
		a.conns[c] = struct{}{}
	} else {
		delete(a.conns, c)
	}
}

// Stop gracefully stops the acceptor: the listener is closed, live websocket
// connections are torn down and their handlers waited on.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.quit)
	server := a.server
	a.mu.Unlock()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = server.Shutdown(ctx)
		cancel()
	}

	// Shutdown does not cover hijacked connections; close them directly so
	// every readLoop unblocks.
	a.connMu.Lock()
	for c := range a.conns {
		_ = c.Close()
	}
	a.connMu.Unlock()
	a.wg.Wait()

	a.logger.Info("websocket acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
