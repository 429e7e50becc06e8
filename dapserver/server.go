// MIT Licensed
// see https://github.com/Paril/angelscript-ui-debugger

// Package dapserver implements a DAP (Debug Adapter Protocol) server on
// top of the debugger core. It translates between the DAP wire protocol
// and the debugger's cache and control surface.
//
// The server supports two transport modes:
//   - TCP: for embedded/attached debugging. The server listens on a TCP
//     port and accepts a single client connection.
//   - Stdio: for CLI use ("asdbg dap --stdio"). The server reads from
//     stdin and writes to stdout, as expected by editors like VS Code
//     when launching a debug adapter as a child process.
package dapserver

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/Paril/angelscript-ui-debugger/debugger"
)

// Server is a DAP protocol server that wraps a Debugger.
type Server struct {
	dbg    *debugger.Debugger
	logger *logrus.Logger

	mu     sync.Mutex
	seq    int
	writer io.Writer
	reader *bufio.Reader

	// done is closed when the server should stop processing messages.
	done chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger replaces the default logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a DAP server wrapping the given debugger.
func New(dbg *debugger.Debugger, opts ...Option) *Server {
	s := &Server{
		dbg:  dbg,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.New()
		s.logger.SetLevel(logrus.WarnLevel)
	}
	return s
}

// ServeConn serves DAP messages on a single connection. It blocks until
// the connection is closed or a disconnect request is received.
func (s *Server) ServeConn(conn io.ReadWriteCloser) error {
	defer conn.Close() //nolint:errcheck // best-effort cleanup
	s.mu.Lock()
	s.writer = conn
	s.reader = bufio.NewReader(conn)
	s.mu.Unlock()
	return s.serve()
}

// ServeTCP listens on the given address and serves a single DAP client.
// It blocks until the client disconnects.
func (s *Server) ServeTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close() //nolint:errcheck // best-effort cleanup
	s.logger.WithField("addr", ln.Addr().String()).Info("dap: listening")
	return s.ServeListener(ln)
}

// ServeListener accepts a single connection from the listener and serves
// DAP messages on it.
func (s *Server) ServeListener(ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		return err
	}
	return s.ServeConn(conn)
}

// ServeStdio serves DAP messages on the given reader and writer,
// typically os.Stdin and os.Stdout.
func (s *Server) ServeStdio(r io.Reader, w io.Writer) error {
	s.mu.Lock()
	s.writer = w
	s.reader = bufio.NewReader(r)
	s.mu.Unlock()
	return s.serve()
}

func (s *Server) serve() error {
	handler := newHandler(s, s.dbg)
	defer s.dbg.SetEventCallback(nil)

	for {
		select {
		case <-s.done:
			return nil
		default:
		}

		msg, err := dap.ReadProtocolMessage(s.reader)
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				if err == io.EOF {
					return nil
				}
				return err
			}
		}

		handler.handle(msg)
	}
}

// send writes a DAP protocol message to the client.
// The caller is responsible for setting the Seq field before calling
// send (via the newResponse/newEvent helpers which call nextSeq).
func (s *Server) send(msg dap.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return dap.WriteProtocolMessage(s.writer, msg)
}

// nextSeq returns the next sequence number for outgoing messages.
func (s *Server) nextSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// close signals the server to stop processing messages.
func (s *Server) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
