// Package ipc serves the daemon's unix-socket endpoint. Each connection
// carries exactly one newline-terminated JSON request and receives exactly
// one JSON response; callers are one-shot processes, so no connection state
// exists.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"focusd/internal/logging"
	"focusd/internal/protocol"
)

var ipcLog = logging.ForComponent(logging.CompIPC)

const (
	// maxRequestBytes bounds one request line. Events are small; anything
	// larger is a misbehaving or malicious writer.
	maxRequestBytes = 64 * 1024

	connTimeout = 5 * time.Second
)

// Server owns the unix listener and the accept loop.
type Server struct {
	socketPath string
	handler    *Handler

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer builds a server bound to socketPath once Serve runs.
func NewServer(socketPath string, handler *Handler) *Server {
	return &Server{socketPath: socketPath, handler: handler}
}

// Listen binds the socket. A leftover socket file from a crashed daemon is
// removed first, but only after confirming nothing answers on it.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("ipc: create socket dir: %w", err)
	}

	if _, err := os.Stat(s.socketPath); err == nil {
		conn, dialErr := net.DialTimeout("unix", s.socketPath, time.Second)
		if dialErr == nil {
			conn.Close()
			return fmt.Errorf("ipc: socket %s already in use by a running daemon", s.socketPath)
		}
		ipcLog.Warn("removing_stale_socket", slog.String("path", s.socketPath))
		if err := os.Remove(s.socketPath); err != nil {
			return fmt.Errorf("ipc: remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("ipc: listen %s: %w", s.socketPath, err)
	}
	// The socket is a local control surface for this user only.
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("ipc: chmod socket: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	ipcLog.Info("listening", slog.String("path", s.socketPath))
	return nil
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("ipc: Serve before Listen")
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			ipcLog.Warn("accept_failed", slog.String("error", err.Error()))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// Close shuts the listener down and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
	return nil
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connTimeout))

	reader := bufio.NewReaderSize(conn, 4096)
	line, err := readLine(reader, maxRequestBytes)
	if err != nil {
		writeResponse(conn, protocol.ErrResponse("", protocol.ErrCodeProtocol, err.Error()))
		return
	}

	resp := s.handler.Handle(ctx, line)
	writeResponse(conn, resp)
}

// readLine reads one newline-terminated request, enforcing the size bound.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > limit {
			return nil, fmt.Errorf("request exceeds %d bytes", limit)
		}
		if err == nil {
			return buf, nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return nil, fmt.Errorf("read request: %v", err)
	}
}

func writeResponse(conn net.Conn, resp *protocol.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		ipcLog.Error("marshal_response_failed", slog.String("error", err.Error()))
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		ipcLog.Debug("write_response_failed", slog.String("error", err.Error()))
	}
}
