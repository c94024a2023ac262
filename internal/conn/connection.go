// Package conn implements the per-connection protocol state machine:
// session establishment (optional transport encryption, capability
// exchange, startup), frame multiplexing over small integer stream ids,
// and correlation of out-of-order responses back to their callers.
//
// A Connection is pinned to one worker for its whole lifetime. Every
// method below is worker-only unless stated otherwise; the sole
// thread-safe entry point into a connection's world from another thread
// is the request queue.
package conn

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"example.com/cqlwire/internal/logger"
	"example.com/cqlwire/internal/metrics"
	"example.com/cqlwire/internal/proto"
	"example.com/cqlwire/internal/worker"
)

// Callbacks is the upstream notification surface. Every callback runs
// on the connection's owning worker.
type Callbacks struct {
	// OnConnect fires once: with nil error when the session reaches
	// READY, or with the failure that prevented it.
	OnConnect func(c *Connection, err error)
	// OnKeyspaceChanged delivers SET_KEYSPACE confirmations. They are a
	// side channel, not a request result: the confirmation answers an
	// earlier implicit instruction.
	OnKeyspaceChanged func(c *Connection, keyspace string)
	// OnEvent delivers server-initiated frames (negative stream id).
	OnEvent func(c *Connection, f *proto.Frame)
	// OnRequestFinished fires after each pending request resolves, for
	// upstream in-flight bookkeeping.
	OnRequestFinished func(c *Connection)
}

// Options configures a Connection.
type Options struct {
	// Host is the remote node's identity, for logging and errors.
	Host string
	// ProtocolVersion is announced in STARTUP.
	ProtocolVersion string
	// Compression is the negotiated body compression label ("" or
	// "none" disables it). Codecs live behind the framer; only the
	// label travels here.
	Compression string
	// Security enables the transport encryption layer when non-nil.
	Security SecurityLayer
	// MaxBodyLength caps inbound frame bodies; 0 selects the default.
	MaxBodyLength uint32
	// WriteTimeout bounds each socket write so a stalled peer cannot
	// wedge the owning worker; 0 selects the default.
	WriteTimeout time.Duration
	Log          *logger.Logger
	Callbacks    Callbacks
}

// DefaultWriteTimeout is the socket write bound applied when Options
// does not set one.
const DefaultWriteTimeout = 30 * time.Second

// Connection is the protocol state machine for one server socket.
type Connection struct {
	nc  net.Conn
	w   *worker.Worker
	log *logger.Logger

	host         string
	version      string
	compression  string
	security     SecurityLayer
	writeTimeout time.Duration
	cbs          Callbacks

	// Worker-only state.
	state      State
	streams    *StreamAllocator
	assembler  *proto.Assembler
	writeBuf   []byte
	keyspace   string
	closeErr   error
	socketDead bool
	notified   bool

	// Mirror of state for cross-thread observation only.
	stateMirror atomic.Uint32
}

// NewConnection wraps an established socket. Call Start to begin the
// session handshake.
func NewConnection(nc net.Conn, w *worker.Worker, opts Options) *Connection {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	host := opts.Host
	if host == "" && nc.RemoteAddr() != nil {
		host = nc.RemoteAddr().String()
	}
	version := opts.ProtocolVersion
	if version == "" {
		version = "3.0.0"
	}
	compression := opts.Compression
	if compression == "" {
		compression = "none"
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Connection{
		nc:           nc,
		w:            w,
		log:          log,
		host:         host,
		version:      version,
		compression:  compression,
		security:     opts.Security,
		writeTimeout: writeTimeout,
		cbs:          opts.Callbacks,
		state:        StateNew,
		streams:      NewStreamAllocator(),
		assembler:    proto.NewAssembler(opts.MaxBodyLength),
	}
}

// Connect dials addr and starts the session handshake. The outcome is
// reported through Callbacks.OnConnect on the owning worker.
func Connect(addr string, timeout time.Duration, w *worker.Worker, opts Options) (*Connection, error) {
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, proto.NewErrorWithCause(proto.KindSocketError,
			fmt.Sprintf("connect to %s failed", addr), err)
	}
	if opts.Host == "" {
		opts.Host = addr
	}
	c := NewConnection(nc, w, opts)
	c.Start()
	return c, nil
}

// Start begins the handshake sequence and the socket reader. Safe from
// any thread; everything it triggers runs on the owning worker.
func (c *Connection) Start() {
	go c.readLoop()
	c.w.Post(func() {
		if err := c.advance(eventSocketUp); err != nil {
			c.closeWith(err)
		}
	})
}

// Worker returns the owning worker.
func (c *Connection) Worker() *worker.Worker { return c.w }

// Host returns the remote node's identity.
func (c *Connection) Host() string { return c.host }

// State returns the connection state. Cross-thread reads see a mirror
// that may lag the worker by one task.
func (c *Connection) State() State { return State(c.stateMirror.Load()) }

// Available returns the number of free stream ids. Worker-only.
func (c *Connection) Available() int { return c.streams.Available() }

// Keyspace returns the last confirmed keyspace. Worker-only.
func (c *Connection) Keyspace() string { return c.keyspace }

// Close requests teardown. Safe from any thread and idempotent; every
// outstanding request is resolved exactly once with a connection-closed
// failure.
func (c *Connection) Close() {
	c.w.Post(func() { c.closeWith(nil) })
}

// SetKeyspace issues the implicit "USE keyspace" statement. The
// confirmation arrives through Callbacks.OnKeyspaceChanged. Safe from
// any thread.
func (c *Connection) SetKeyspace(keyspace string) {
	c.w.Post(func() {
		cb := &internalQuery{statement: "USE " + keyspace, log: c.log}
		if err := c.Submit(cb); err != nil {
			c.log.Warn("set keyspace submit failed",
				logger.LogFields{"host": c.host, "keyspace": keyspace, "error": err.Error()})
		} else {
			c.Flush()
		}
	})
}

// Submit assigns a stream id to cb, encodes its frame and buffers the
// bytes for the next Flush. Worker-only. A KindStreamExhausted return
// is synchronous backpressure: nothing was sent and cb keeps ownership
// of the request.
func (c *Connection) Submit(cb RequestCallback) error {
	if c.state != StateReady {
		return proto.NewError(proto.KindConnectionClosed,
			fmt.Sprintf("connection to %s is %s, not READY", c.host, c.state))
	}
	pending := &PendingRequest{Callback: cb, SubmittedAt: time.Now()}
	id, err := c.streams.Acquire(pending)
	if err != nil {
		metrics.StreamExhausted.Inc()
		return err
	}
	frame, err := cb.EncodeFrame(id)
	if err != nil {
		// Undo the allocation; the request never reached the wire.
		_, _ = c.streams.Release(id)
		return err
	}
	if err := c.enqueueWrite(frame); err != nil {
		// The write path already started teardown. Hand the slot back so
		// the drain cannot see this request: the synchronous error return
		// is its only resolution.
		_, _ = c.streams.Release(id)
		return err
	}
	metrics.FramesWritten.Inc()
	c.log.Debug("request submitted",
		logger.LogFields{"host": c.host, "stream": id, "bytes": len(frame)})
	return nil
}

// Flush writes everything buffered by Submit in a single socket write.
// Worker-only. The request queue calls this once per drain cycle per
// connection, regardless of how many submissions targeted it.
func (c *Connection) Flush() {
	if len(c.writeBuf) == 0 || c.state >= StateDisconnecting {
		return
	}
	buf := c.writeBuf
	c.writeBuf = nil
	n, err := c.writeBounded(buf)
	metrics.BytesWritten.Add(n)
	if err != nil {
		c.closeWith(proto.NewErrorWithCause(proto.KindSocketError,
			fmt.Sprintf("write to %s failed", c.host), err))
	}
}

// writeBounded performs one socket write under a deadline. A peer that
// stops reading makes the write fail within writeTimeout instead of
// parking the worker, and the failure closes the connection.
func (c *Connection) writeBounded(b []byte) (int, error) {
	_ = c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	n, err := c.nc.Write(b)
	_ = c.nc.SetWriteDeadline(time.Time{})
	return n, err
}

// advance runs one transition of the state machine and the entry action
// of the new state.
func (c *Connection) advance(ev stateEvent) error {
	next, err := nextState(c.state, ev)
	if err != nil {
		return err
	}
	c.log.Debug("state transition",
		logger.LogFields{"host": c.host, "from": c.state.String(), "event": ev.String(), "to": next.String()})
	c.setState(next)

	switch next {
	case StateConnected:
		if c.security != nil {
			return c.advance(eventHandshakeStarted)
		}
		return c.advance(eventHandshakeDone)

	case StateHandshakeNegotiating:
		out, err := c.security.Handshake()
		if err != nil {
			return proto.NewErrorWithCause(proto.KindHandshakeError,
				fmt.Sprintf("encryption handshake with %s failed to start", c.host), err)
		}
		if len(out) > 0 {
			return c.rawWrite(out)
		}

	case StateOptionsSent:
		return c.sendControl(proto.OpcodeOptions, nil)

	case StateStartupSent:
		return c.sendControl(proto.OpcodeStartup, c.startupBody())

	case StateReady:
		c.log.Info("session ready",
			logger.LogFields{"host": c.host, "version": c.version, "compression": c.compression})
		c.notifyConnect(nil)

	case StateDisconnecting:
		_ = c.nc.Close()
		if c.socketDead {
			return c.advance(eventSocketClosed)
		}

	case StateDisconnected:
		c.teardown()
	}
	return nil
}

func (c *Connection) setState(s State) {
	c.state = s
	c.stateMirror.Store(uint32(s))
}

// startupBody builds the STARTUP string map.
func (c *Connection) startupBody() []byte {
	keys := []string{"CQL_VERSION"}
	values := map[string]string{"CQL_VERSION": c.version}
	if c.compression != "none" {
		keys = append(keys, "COMPRESSION")
		values["COMPRESSION"] = c.compression
	}
	return proto.AppendStringMap(nil, keys, values)
}

// sendControl writes a driver-internal frame on stream 0 and flushes it
// immediately. Control frames never occupy the stream allocator: their
// responses drive the state machine, not the pending-request table.
func (c *Connection) sendControl(op proto.Opcode, body []byte) error {
	frame := proto.EncodeFrame(0, op, body)
	if err := c.enqueueWrite(frame); err != nil {
		return err
	}
	metrics.FramesWritten.Inc()
	c.log.Debug("control frame sent", logger.LogFields{"host": c.host, "opcode": op.String()})
	c.Flush()
	return nil
}

// enqueueWrite appends wire bytes, encrypting first when the security
// layer is active.
func (c *Connection) enqueueWrite(b []byte) error {
	if c.security != nil && c.security.HandshakeDone() {
		eb, err := c.security.Encrypt(b)
		if err != nil {
			err = proto.NewErrorWithCause(proto.KindHandshakeError,
				fmt.Sprintf("encrypt for %s failed", c.host), err)
			c.closeWith(err)
			return err
		}
		b = eb
	}
	c.writeBuf = append(c.writeBuf, b...)
	return nil
}

// rawWrite bypasses buffering and encryption, for handshake bytes the
// security layer already produced in wire form.
func (c *Connection) rawWrite(b []byte) error {
	n, err := c.writeBounded(b)
	metrics.BytesWritten.Add(n)
	if err != nil {
		return proto.NewErrorWithCause(proto.KindSocketError,
			fmt.Sprintf("write to %s failed", c.host), err)
	}
	return nil
}

// readLoop runs on its own goroutine and posts each chunk to the owning
// worker. It exits when the socket dies or the worker stops.
func (c *Connection) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !c.w.Post(func() { c.handleRead(chunk) }) {
				return
			}
		}
		if err != nil {
			c.w.Post(func() { c.handleReadError(err) })
			return
		}
	}
}

// handleRead feeds one inbound chunk through decryption and frame
// assembly, then dispatches every completed frame.
func (c *Connection) handleRead(chunk []byte) {
	if c.state >= StateDisconnecting {
		return
	}
	metrics.BytesRead.Add(len(chunk))

	plain := chunk
	if c.security != nil {
		wasDone := c.security.HandshakeDone()
		p, out, err := c.security.ReadWrite(chunk)
		if err != nil {
			c.closeWith(proto.NewErrorWithCause(proto.KindHandshakeError,
				fmt.Sprintf("encryption layer error on %s", c.host), err))
			return
		}
		if len(out) > 0 {
			if werr := c.rawWrite(out); werr != nil {
				c.closeWith(werr)
				return
			}
		}
		if !wasDone && c.security.HandshakeDone() {
			if aerr := c.advance(eventHandshakeDone); aerr != nil {
				c.closeWith(aerr)
				return
			}
		}
		plain = p
	}
	if len(plain) == 0 {
		return
	}

	frames, err := c.assembler.Feed(plain)
	for _, f := range frames {
		if c.state >= StateDisconnecting {
			return
		}
		c.dispatchFrame(f)
	}
	if err != nil {
		metrics.ProtocolErrors.Inc()
		c.closeWith(err)
	}
}

// dispatchFrame routes one complete frame by stream id and opcode.
func (c *Connection) dispatchFrame(f *proto.Frame) {
	metrics.FramesRead.Inc()
	c.log.Debug("frame received",
		logger.LogFields{"host": c.host, "opcode": f.Opcode.String(), "stream": f.Stream, "length": f.Length})

	if f.Stream < 0 {
		// Server-initiated event: explicit dispatch path, never the
		// pending-request table.
		if c.cbs.OnEvent != nil {
			c.cbs.OnEvent(c, f)
		} else {
			c.log.Debug("unsolicited event dropped, no event callback",
				logger.LogFields{"host": c.host, "opcode": f.Opcode.String()})
		}
		return
	}

	switch f.Opcode {
	case proto.OpcodeSupported:
		if err := c.advance(eventSupportedReceived); err != nil {
			c.protocolClose(err)
		}
	case proto.OpcodeReady:
		if err := c.advance(eventReadyReceived); err != nil {
			c.protocolClose(err)
		}
	case proto.OpcodeAuthenticate:
		c.closeWith(proto.NewError(proto.KindHandshakeError,
			fmt.Sprintf("%s requires authentication, no authenticator configured", c.host)))
	case proto.OpcodeError:
		c.onErrorFrame(f)
	case proto.OpcodeResult:
		c.onResultFrame(f)
	default:
		c.protocolClose(proto.NewError(proto.KindProtocolError,
			fmt.Sprintf("unexpected %s frame from %s", f.Opcode, c.host)))
	}
}

// onErrorFrame handles a server ERROR. Before READY it fails the whole
// handshake; afterwards it resolves the one request it references and
// the connection stays open.
func (c *Connection) onErrorFrame(f *proto.Frame) {
	code, msg, perr := proto.ParseErrorBody(f.Body)
	if perr != nil {
		c.protocolClose(perr)
		return
	}
	if c.state < StateReady {
		c.closeWith(proto.NewServerError(code,
			fmt.Sprintf("handshake rejected by %s: %s", c.host, msg)))
		return
	}
	pending, rerr := c.streams.Release(f.Stream)
	if rerr != nil {
		c.protocolClose(rerr)
		return
	}
	if pending.Callback != nil {
		pending.Callback.OnError(proto.NewServerError(code, msg))
	}
	c.finishRequest()
}

// onResultFrame correlates a RESULT to its pending request. A
// SET_KEYSPACE result is confirmation of an earlier implicit
// instruction and goes out through the keyspace side channel instead of
// the request's own result path.
func (c *Connection) onResultFrame(f *proto.Frame) {
	kind, kerr := proto.ParseResultKind(f.Body)
	if kerr != nil {
		c.protocolClose(kerr)
		return
	}
	var keyspace string
	if kind == proto.ResultKindSetKeyspace {
		ks, perr := proto.ParseSetKeyspace(f.Body)
		if perr != nil {
			c.protocolClose(perr)
			return
		}
		keyspace = ks
	}
	pending, rerr := c.streams.Release(f.Stream)
	if rerr != nil {
		c.protocolClose(rerr)
		return
	}
	if kind == proto.ResultKindSetKeyspace {
		c.keyspace = keyspace
		if c.cbs.OnKeyspaceChanged != nil {
			c.cbs.OnKeyspaceChanged(c, keyspace)
		}
	} else if pending.Callback != nil {
		pending.Callback.OnResult(f)
	}
	c.finishRequest()
}

func (c *Connection) finishRequest() {
	if c.cbs.OnRequestFinished != nil {
		c.cbs.OnRequestFinished(c)
	}
}

// protocolClose records a protocol error and tears the connection down.
func (c *Connection) protocolClose(err error) {
	metrics.ProtocolErrors.Inc()
	c.log.Error("protocol error", logger.LogFields{"host": c.host, "error": err.Error()})
	c.closeWith(err)
}

// handleReadError runs on the worker after the socket read side died.
func (c *Connection) handleReadError(err error) {
	c.socketDead = true
	switch {
	case c.state == StateDisconnecting:
		// Expected: we closed the socket ourselves.
		if aerr := c.advance(eventSocketClosed); aerr != nil {
			c.log.Error("close completion failed", logger.LogFields{"host": c.host, "error": aerr.Error()})
		}
	case c.state == StateDisconnected:
		// Late duplicate, nothing to do.
	default:
		c.closeWith(proto.NewErrorWithCause(proto.KindSocketError,
			fmt.Sprintf("read from %s failed", c.host), err))
	}
}

// closeWith starts teardown, recording the first fatal reason. Calling
// it again while disconnecting is a no-op.
func (c *Connection) closeWith(reason error) {
	if c.state >= StateDisconnecting {
		return
	}
	if reason != nil && c.closeErr == nil {
		c.closeErr = reason
	}
	c.log.Debug("closing connection",
		logger.LogFields{"host": c.host, "state": c.state.String(), "pending": c.streams.Occupied()})
	if err := c.advance(eventCloseRequested); err != nil {
		c.log.Error("close transition failed", logger.LogFields{"host": c.host, "error": err.Error()})
	}
}

// teardown is the StateDisconnected entry action: every outstanding
// request is resolved exactly once with a connection-closed failure.
func (c *Connection) teardown() {
	metrics.ConnectionsClosed.Inc()

	closedErr := proto.NewErrorWithCause(proto.KindConnectionClosed,
		fmt.Sprintf("connection to %s closed", c.host), c.closeErr)
	for _, pending := range c.streams.DrainAll() {
		if pending.Callback != nil {
			pending.Callback.OnError(closedErr)
		}
		c.finishRequest()
	}

	if c.closeErr != nil {
		c.log.Warn("connection closed",
			logger.LogFields{"host": c.host, "error": c.closeErr.Error()})
	} else {
		c.log.Info("connection closed", logger.LogFields{"host": c.host})
	}
	c.notifyConnect(c.closeErr)
}

// notifyConnect fires OnConnect exactly once. The nil-error call happens
// on READY; a close before READY reports the failure instead.
func (c *Connection) notifyConnect(err error) {
	if c.notified || c.cbs.OnConnect == nil {
		return
	}
	c.notified = true
	if err == nil && c.state != StateReady {
		err = proto.NewError(proto.KindConnectionClosed,
			fmt.Sprintf("connection to %s closed before session was ready", c.host))
	}
	c.cbs.OnConnect(c, err)
}

// internalQuery is the PendingRequest-less completion path for
// driver-issued statements such as "USE keyspace".
type internalQuery struct {
	statement string
	log       *logger.Logger
}

func (q *internalQuery) EncodeFrame(stream int8) ([]byte, error) {
	return proto.EncodeFrame(stream, proto.OpcodeQuery, proto.EncodeQueryBody(q.statement)), nil
}

func (q *internalQuery) OnResult(*proto.Frame) {}

func (q *internalQuery) OnError(err error) {
	q.log.Warn("internal query failed",
		logger.LogFields{"statement": q.statement, "error": err.Error()})
}
