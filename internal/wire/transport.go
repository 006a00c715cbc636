package wire

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Conn is a framed JSON connection: every Send writes one line, every
// Receive reads one line. It wraps a raw net.Conn; pooling lives in Pool
// below.
type Conn struct {
	raw net.Conn
	r   *bufio.Reader
	dec *Decoder
	enc *Encoder
}

// Dial opens a fresh TCP connection to addr with the given I/O timeout.
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	raw, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return newConn(raw), nil
}

func newConn(raw net.Conn) *Conn {
	r := bufio.NewReader(raw)
	return &Conn{
		raw: raw,
		r:   r,
		dec: NewDecoder(r, DefaultMaxMessageSize),
		enc: NewEncoder(raw),
	}
}

// SetDeadline applies a network deadline to the underlying connection.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.raw.SetDeadline(t)
}

// Send frames and writes msg.
func (c *Conn) Send(msg Message) error {
	return c.enc.Encode(WithType(msg))
}

// Receive blocks for the next frame and decodes its type. Callers use
// Decoded.Into to extract the typed payload once they know the type.
func (c *Conn) Receive() (Decoded, error) {
	frame, ok := c.dec.Next()
	if !ok {
		if err := c.dec.Err(); err != nil {
			return Decoded{}, err
		}
		return Decoded{}, fmt.Errorf("wire: connection closed")
	}
	return DecodeFrame(frame)
}

// RemoteAddr returns the address of the peer.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// Pool keeps a small number of idle connections per target address so
// high-frequency callers (gossip forwarding, vote solicitation) can avoid
// paying a TCP handshake on every call.
type Pool struct {
	mu      sync.Mutex
	conns   map[string][]*Conn
	maxPool int
	timeout time.Duration
}

// NewPool creates a connection pool bounded to maxPool idle connections per
// target, dialing with the given timeout.
func NewPool(maxPool int, timeout time.Duration) *Pool {
	if maxPool <= 0 {
		maxPool = 1
	}
	return &Pool{
		conns:   make(map[string][]*Conn),
		maxPool: maxPool,
		timeout: timeout,
	}
}

// Get returns a pooled connection to target, dialing a new one if none is
// idle.
func (p *Pool) Get(target string) (*Conn, error) {
	p.mu.Lock()
	pooled := p.conns[target]
	if n := len(pooled); n > 0 {
		conn := pooled[n-1]
		p.conns[target] = pooled[:n-1]
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	return Dial(target, p.timeout)
}

// Put returns conn to the pool for reuse, or closes it if the pool for its
// target is already full. Callers must not use conn after Put.
func (p *Pool) Put(target string, conn *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.conns[target]) >= p.maxPool {
		conn.Close()
		return
	}
	p.conns[target] = append(p.conns[target], conn)
}

// Invalidate drops and closes every pooled connection to target. Used when
// the overlay's neighbor set changes, so stale pooled sockets to
// ex-neighbors don't linger.
func (p *Pool) Invalidate(target string) {
	p.mu.Lock()
	conns := p.conns[target]
	delete(p.conns, target)
	p.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Close closes every pooled connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for target, conns := range p.conns {
		for _, c := range conns {
			c.Close()
		}
		delete(p.conns, target)
	}
}

// Handler processes one decoded frame received on conn. It may call
// conn.Send to reply on the same connection (as required for VOTE and the
// peer registration/query flows) or do nothing (fire-and-forget messages
// like GOSSIP and REMOVAL_NOTIFY).
type Handler func(conn *Conn, msg Decoded)

// Listener accepts inbound connections and dispatches each frame on each
// connection to a Handler, one goroutine per connection.
type Listener struct {
	ln      net.Listener
	logger  *logrus.Entry
	timeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// Listen binds addr and returns a Listener. Bind failures are fatal to the
// caller.
func Listen(addr string, timeout time.Duration, logger *logrus.Entry) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		ln:      ln,
		logger:  logger,
		timeout: timeout,
		closed:  make(chan struct{}),
	}, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve blocks accepting connections and handling each with handle. It
// returns when the listener is closed.
func (l *Listener) Serve(handle Handler) {
	for {
		raw, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.closed:
				return
			default:
				l.logger.WithField("error", err).Error("accept failed")
				continue
			}
		}
		go l.handleConn(raw, handle)
	}
}

func (l *Listener) handleConn(raw net.Conn, handle Handler) {
	defer raw.Close()

	conn := newConn(raw)
	for {
		if l.timeout > 0 {
			raw.SetReadDeadline(time.Now().Add(l.timeout))
		}

		frame, ok := conn.dec.Next()
		if !ok {
			if err := conn.dec.Err(); err != nil {
				l.logger.WithFields(logrus.Fields{"error": err, "remote": raw.RemoteAddr()}).Debug("connection read error")
			}
			return
		}

		decoded, err := DecodeFrame(frame)
		if err != nil {
			l.logger.WithFields(logrus.Fields{"error": err, "remote": raw.RemoteAddr()}).Warn("malformed frame, skipping")
			continue
		}

		handle(conn, decoded)
	}
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return l.ln.Close()
}
