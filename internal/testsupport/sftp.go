package testsupport

import (
	"context"
	"io"
	"net"
	"path"
	"sync"
	"testing"

	"github.com/pkg/sftp"

	transfer "imagepipe/internal/services/sftp"
)

// SFTPServer is an in-memory SFTP server. Every dial yields a transport whose
// sessions each run over their own net.Pipe, all backed by one file tree.
type SFTPServer struct {
	t        testing.TB
	handlers sftp.Handlers

	mu         sync.Mutex
	transports []*pipeTransport
	dials      int
	severName  string
	severAfter int64
}

// NewSFTPPipe starts an in-memory SFTP server for the test.
func NewSFTPPipe(t testing.TB) *SFTPServer {
	t.Helper()
	s := &SFTPServer{t: t, handlers: sftp.InMemHandler()}
	t.Cleanup(s.DropConnections)
	return s
}

// Dial matches the transfer adapter's dial hook.
func (s *SFTPServer) Dial(context.Context) (transfer.Transport, error) {
	tr := &pipeTransport{server: s}
	s.mu.Lock()
	s.transports = append(s.transports, tr)
	s.dials++
	s.mu.Unlock()
	return tr, nil
}

// Dials reports how many transports were opened.
func (s *SFTPServer) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// DropConnections severs every transport and its sessions, simulating loss of
// the whole network path.
func (s *SFTPServer) DropConnections() {
	s.mu.Lock()
	transports := s.transports
	s.transports = nil
	s.mu.Unlock()
	for _, tr := range transports {
		tr.sever()
	}
}

// SeverWritesTo cuts only the session writing the named file once a write
// reaches offset after. Other sessions on the same transport keep running.
func (s *SFTPServer) SeverWritesTo(name string, after int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.severName = name
	s.severAfter = after
}

func (s *SFTPServer) severRule() (string, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.severName, s.severAfter
}

// ReadFile returns the content stored at remotePath using a separate transport.
func (s *SFTPServer) ReadFile(remotePath string) ([]byte, error) {
	tr := &pipeTransport{server: s}
	defer tr.sever()
	client, err := tr.NewSession()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	f, err := client.Open(remotePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// handlersFor wraps the shared tree so writes can sever this session's pipe.
func (s *SFTPServer) handlersFor(conn net.Conn) sftp.Handlers {
	h := s.handlers
	h.FilePut = &severingPut{FileWriter: s.handlers.FilePut, server: s, conn: conn}
	return h
}

type pipeTransport struct {
	server *SFTPServer

	mu    sync.Mutex
	dead  bool
	conns []net.Conn
}

func (p *pipeTransport) NewSession() (*sftp.Client, error) {
	p.mu.Lock()
	dead := p.dead
	p.mu.Unlock()
	if dead {
		return nil, net.ErrClosed
	}

	clientConn, serverConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, p.server.handlersFor(serverConn))
	go func() {
		_ = server.Serve()
		_ = server.Close()
	}()

	client, err := sftp.NewClientPipe(clientConn, clientConn)
	if err != nil {
		_ = clientConn.Close()
		_ = serverConn.Close()
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		_ = client.Close()
		_ = serverConn.Close()
		return nil, net.ErrClosed
	}
	p.conns = append(p.conns, clientConn, serverConn)
	return client, nil
}

func (p *pipeTransport) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return net.ErrClosed
	}
	return nil
}

func (p *pipeTransport) Close() error {
	p.sever()
	return nil
}

func (p *pipeTransport) sever() {
	p.mu.Lock()
	p.dead = true
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

type severingPut struct {
	sftp.FileWriter
	server *SFTPServer
	conn   net.Conn
}

func (p *severingPut) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	w, err := p.FileWriter.Filewrite(r)
	if err != nil {
		return nil, err
	}
	name, after := p.server.severRule()
	if name == "" || path.Base(r.Filepath) != name {
		return w, nil
	}
	return &severingWriter{WriterAt: w, conn: p.conn, after: after}, nil
}

type severingWriter struct {
	io.WriterAt
	conn  net.Conn
	after int64
	once  sync.Once
}

func (w *severingWriter) WriteAt(b []byte, off int64) (int, error) {
	if off >= w.after {
		w.once.Do(func() { _ = w.conn.Close() })
		return 0, io.ErrClosedPipe
	}
	return w.WriterAt.WriteAt(b, off)
}
