package tidelib

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/lithdew/bytesutil"
	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"

	"github.com/driftlock/tideline/metrics"
)

const (
	DefaultConnectTimeout = 2000 * time.Millisecond
	DefaultReadTimeout    = 2000 * time.Millisecond
	DefaultBufferSize     = 8192
)

type Config struct {
	// Addr is the host:port of the collector. Required.
	Addr string

	// Prefix namespaces the operational counters ("{prefix}.write.success").
	// Counters are unprefixed when empty.
	Prefix string

	// Registry hands out the six delta counters. Defaults to a fresh
	// in-memory registry.
	Registry metrics.Registry

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	BufferSize     int

	// DialAttempts bounds the initial connect. Attempts beyond the first are
	// spaced by a jittered backoff. Reconnects triggered by a failed write or
	// flush always get a single attempt.
	DialAttempts int

	// Logger defaults to a timestamped stderr logger.
	Logger *zerolog.Logger
}

// Sender streams text records to a fixed TCP collector and survives connection
// loss: a failed write triggers one reconnect and one retry, a failed flush
// repairs the connection in the background. Delivery is at-most-once; records
// in flight across a reconnect may be lost. Safe for concurrent use.
type Sender struct {
	addr string

	connectTimeout time.Duration
	readTimeout    time.Duration
	bufferSize     int
	dialAttempts   int

	log      zerolog.Logger
	counters *counterSet

	resetting int32        // single-flight gate on (re)connects
	stream    atomic.Value // *stream, swapped wholesale on reconnect
}

// NewSender connects to cfg.Addr and returns a ready Sender. It blocks until
// the initial connect resolves; a dial timeout or error aborts construction.
func NewSender(cfg Config) (*Sender, error) {
	if cfg.Addr == "" {
		return nil, errors.New("tidelib: no collector address")
	}

	reg := cfg.Registry
	if reg == nil {
		reg = metrics.NewRegistry()
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("component", "tideline").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	s := &Sender{
		addr:           cfg.Addr,
		connectTimeout: cfg.ConnectTimeout,
		readTimeout:    cfg.ReadTimeout,
		bufferSize:     cfg.BufferSize,
		dialAttempts:   cfg.DialAttempts,
		log:            logger,
		counters:       newCounterSet(reg, cfg.Prefix),
	}
	if s.connectTimeout <= 0 {
		s.connectTimeout = DefaultConnectTimeout
	}
	if s.readTimeout <= 0 {
		s.readTimeout = DefaultReadTimeout
	}
	if s.bufferSize <= 0 {
		s.bufferSize = DefaultBufferSize
	}
	if s.dialAttempts <= 0 {
		s.dialAttempts = 1
	}

	if err := s.reconnect(false); err != nil {
		return nil, err
	}
	if s.current() == nil {
		return nil, fmt.Errorf("%w: no connection to %s within %s", ErrDialTimeout, s.addr, s.connectTimeout)
	}
	return s, nil
}

// Write sends message as-is; record delimiting is the caller's business (see
// WriteLine for the common case). A failed write triggers exactly one
// reconnect and one retry; if the retry also fails the record is gone and the
// returned error says so.
func (s *Sender) Write(message string) error {
	return s.send(bytesutil.Slice(message))
}

// WriteLine appends the line terminator and sends record as one line of the
// collector's text protocol.
func (s *Sender) WriteLine(record string) error {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	_, _ = bb.WriteString(record)
	_ = bb.WriteByte('\n')
	return s.send(bb.B)
}

func (s *Sender) send(p []byte) error {
	if st := s.current(); st != nil {
		err := st.write(p)
		if err == nil {
			s.counters.writeSuccess.Inc()
			return nil
		}
		s.log.Warn().Err(err).Str("addr", s.addr).Msg("write failed, resetting connection")
	}

	// One reset, one retry. The reset is a no-op when another caller holds the
	// gate; the retry then runs against whatever handle is installed.
	_ = s.reconnect(true)

	st := s.current()
	if st == nil {
		s.counters.writeErrors.Inc()
		return fmt.Errorf("tidelib: write to %s: no connection", s.addr)
	}
	if err := st.write(p); err != nil {
		s.counters.writeErrors.Inc()
		return fmt.Errorf("tidelib: write to %s: %w", s.addr, err)
	}
	s.counters.writeSuccess.Inc()
	return nil
}

// Flush pushes buffered bytes to the socket. It never returns a non-nil
// error: a failed flush is counted, logged, and repaired by a background
// reconnect instead of being surfaced.
func (s *Sender) Flush() error {
	st := s.current()
	if st == nil {
		return nil
	}

	if err := st.flush(); err != nil {
		s.counters.flushErrors.Inc()
		s.log.Warn().Err(err).Str("addr", s.addr).Msg("flush failed, resetting connection in background")
		go func() { _ = s.reconnect(true) }()
		return nil
	}
	s.counters.flushSuccess.Inc()
	return nil
}

// Close flushes and tears the connection down. Errors are logged and
// swallowed; closing twice is a no-op beyond re-closing the socket.
func (s *Sender) Close() error {
	st := s.current()
	if st == nil {
		return nil
	}
	if err := st.close(); err != nil {
		s.log.Warn().Err(err).Str("addr", s.addr).Msg("closing connection")
	}
	return nil
}

func (s *Sender) current() *stream {
	st, _ := s.stream.Load().(*stream)
	return st
}

// reconnect serializes connection (re)establishment. Whoever loses the CAS on
// the gate returns immediately: an attempt is already in flight and this
// request is redundant. A dial that exceeds the connect timeout is silent (no
// error, no counters, old handle left installed) so the next write fails into
// another reset; any other dial failure is returned.
func (s *Sender) reconnect(isReset bool) error {
	if !atomic.CompareAndSwapInt32(&s.resetting, 0, 1) {
		return nil
	}
	defer atomic.StoreInt32(&s.resetting, 0)

	if isReset {
		if old := s.current(); old != nil {
			if err := old.close(); err != nil {
				s.log.Warn().Err(err).Str("addr", s.addr).Msg("closing stale connection")
			}
		}
	}

	attempts := 1
	if !isReset {
		attempts = s.dialAttempts
	}

	conn, err := s.dial(attempts)
	if err != nil {
		if isTimeout(err) {
			s.log.Warn().Str("addr", s.addr).Dur("timeout", s.connectTimeout).Msg("connect timed out")
			return nil
		}
		if isReset {
			s.counters.resetErrors.Inc()
		}
		s.log.Warn().Err(err).Str("addr", s.addr).Msg("connect failed")
		return fmt.Errorf("tidelib: connect to %s: %w", s.addr, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	s.stream.Store(newStream(conn, s.bufferSize))
	if isReset {
		s.counters.resetSuccess.Inc()
	}
	s.log.Info().Str("addr", s.addr).Msg("connected")
	return nil
}

func (s *Sender) dial(attempts int) (net.Conn, error) {
	b := &backoff.Backoff{
		Factor: 1.25,
		Jitter: true,
		Min:    500 * time.Millisecond,
		Max:    1 * time.Second,
	}

	for {
		conn, err := net.DialTimeout("tcp", s.addr, s.connectTimeout)
		if err == nil {
			return conn, nil
		}

		attempts--
		if attempts <= 0 {
			return nil, err
		}

		duration := b.Duration()
		s.log.Warn().Err(err).Str("addr", s.addr).Dur("retry_in", duration).Msg("dial failed, retrying")
		time.Sleep(duration)
	}
}
