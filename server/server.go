// Package server exposes a printer bridge over TCP. Clients send one JSON
// request per line and receive one JSON response per line; responses to
// asynchronous printer results may arrive out of request order and are
// matched by id.
package server

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"
)

// MaxRequestSize bounds a single request line; image payloads are the largest
const MaxRequestSize = 16 << 20

// WriteTimeout bounds writing one response to a client
const WriteTimeout = 5 * time.Second

// Server represents a TCP server that forwards requests to a printer bridge
type Server struct {
	bridge   Bridge
	listener net.Listener
	address  string
	mu       sync.Mutex
	running  bool
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	logger   *log.Logger
}

// New creates a new server instance
func New(bridge Bridge, address string) *Server {
	logger := log.New(os.Stdout, "[SERVER] ", log.LstdFlags|log.Lmsgprefix)
	return NewWithLogger(bridge, address, logger)
}

// NewWithLogger creates a new server instance with a custom logger
func NewWithLogger(bridge Bridge, address string, logger *log.Logger) *Server {
	return &Server{
		bridge:  bridge,
		address: address,
		conns:   make(map[net.Conn]struct{}),
		logger:  logger,
	}
}

// listen opens the listener; mode is only used for logging
func (s *Server) listen(mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Printf("Starting server on %s (%s mode)", s.address, mode)

	if s.running {
		s.logger.Println("Error: Server already running")
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		s.logger.Printf("Error: Failed to start server: %v", err)
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.listener = listener
	s.running = true
	s.logger.Printf("Server listening on %s", listener.Addr())
	return nil
}

// Start starts the TCP server and blocks until Stop is called
func (s *Server) Start() error {
	if err := s.listen("blocking"); err != nil {
		return err
	}

	s.wg.Add(1)
	s.logger.Println("Ready to accept connections")
	s.acceptConnections()

	return nil
}

// StartAsync starts the TCP server in a goroutine (non-blocking)
func (s *Server) StartAsync() error {
	if err := s.listen("async"); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.acceptConnections()
	s.logger.Println("Server started in background, ready to accept connections")

	return nil
}

// acceptConnections handles incoming client connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()

			if !running {
				// Server is shutting down
				s.logger.Println("Server shutting down, stopping accept loop")
				return
			}
			s.logger.Printf("Error accepting connection: %v", err)
			continue
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		s.logger.Printf("Client connected from %s", conn.RemoteAddr())
		go s.handleConnection(conn)
	}
}

// handleConnection serves requests from a single client connection
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.logger.Printf("Client disconnected: %s", conn.RemoteAddr())
		conn.Close()
	}()

	clientAddr := conn.RemoteAddr().String()
	sess := newSession(conn, s.logger)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxRequestSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.logger.Printf("Received %d bytes from %s", len(line), clientAddr)
		s.dispatch(sess, line)
	}

	if err := scanner.Err(); err != nil {
		s.logger.Printf("Error reading from client %s: %v", clientAddr, err)
	} else {
		s.logger.Printf("Client %s closed connection", clientAddr)
	}
	sess.close()
}

// Stop stops the TCP server and closes client connections
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Println("Stop called but server is not running")
		return nil
	}

	s.logger.Println("Stopping server...")
	s.running = false
	listener := s.listener
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	if listener != nil {
		s.logger.Println("Closing listener...")
		listener.Close()
	}

	// Wait for all connections to finish
	s.logger.Println("Waiting for active connections to close...")
	s.wg.Wait()
	s.logger.Println("Server stopped successfully")
	return nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Address returns the configured server address
func (s *Server) Address() string {
	return s.address
}

// ListenAddr returns the bound address while the server is running
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// GetBridge returns the underlying bridge
func (s *Server) GetBridge() Bridge {
	return s.bridge
}
