package tidelib

import (
	"bufio"
	"net"
	"sync"
)

// stream is one connected socket and its buffered writer. The mutex serializes
// concurrent writers so records never interleave on the wire. A stream is
// never repaired in place; reconnects install a whole new one.
type stream struct {
	conn net.Conn

	mu sync.Mutex
	w  *bufio.Writer
}

func newStream(conn net.Conn, size int) *stream {
	return &stream{conn: conn, w: bufio.NewWriterSize(conn, size)}
}

func (s *stream) write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(p)
	return err
}

func (s *stream) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// close flushes what it can and always closes the socket. The first error wins.
func (s *stream) close() error {
	s.mu.Lock()
	err := s.w.Flush()
	s.mu.Unlock()

	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
