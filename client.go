package avs

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Client drives the command exchange with the AVS daemon. Callers may invoke
// the command operations from any goroutine; they serialize at the
// single-flight gate, so at most one command is outstanding to AVS at any
// instant.
type Client struct {
	*Engine
	log    zerolog.Logger
	notify NotifyFunc

	// gate is held for an entire call, including the reply wait.
	gate sync.Mutex

	mu       sync.Mutex // guards pending, started, closed
	pending  *pendingReply
	started  bool
	closed   bool
	recvDone chan struct{}
}

// pendingReply is the rendezvous between the caller holding the gate and the
// receiver goroutine.
type pendingReply struct {
	kind   CmdType
	commID string
	ch     chan *reply // buffered, the receiver delivers at most once
}

type reply struct {
	resp     any
	err      error
	linkDown bool
}

type ClientOption func(c *Client) error

func NewClient(engine *Engine, options ...ClientOption) (*Client, error) {
	if engine == nil {
		engine = NewEngine()
	}
	c := &Client{
		Engine: engine,
		log:    log.Logger.With().Str("New", "Client").Logger(),
	}

	for _, o := range options {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// WithServerPath overrides the socket path the AVS daemon listens on.
func WithServerPath(path string) ClientOption {
	return func(c *Client) error {
		if path == "" {
			return errors.New("avs: empty server path")
		}
		c.serverPath = path
		return nil
	}
}

// WithClientPath overrides the path of our bound endpoint.
func WithClientPath(path string) ClientOption {
	return func(c *Client) error {
		if path == "" {
			return errors.New("avs: empty client path")
		}
		c.clientPath = path
		return nil
	}
}

// WithTimeout overrides the per-command reply timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("avs: timeout must be positive")
		}
		c.timeout = d
		return nil
	}
}

// WithNotifyHandler installs a handler for unsolicited AVS datagrams, the
// ones carrying no "id". The handler runs on the receiver goroutine.
func WithNotifyHandler(fn NotifyFunc) ClientOption {
	return func(c *Client) error {
		c.notify = fn
		return nil
	}
}

// Connect binds the local endpoint and starts the receiver. It must be
// called once before any command operation.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("avs: client is shut down")
	}
	if c.started {
		return errors.New("avs: already connected")
	}

	conn, err := c.Engine.Bind()
	if err != nil {
		return err
	}

	c.started = true
	c.recvDone = make(chan struct{})
	go c.recvTask(conn)
	return nil
}

// Shutdown closes the socket, joins the receiver and wakes any in-flight
// caller with ResultLinkDisconnect. Safe to call more than once.
func (c *Client) Shutdown() {
	c.mu.Lock()
	if c.closed || !c.started {
		c.closed = true
		c.mu.Unlock()
		return
	}
	c.closed = true
	if p := c.pending; p != nil {
		c.pending = nil
		p.ch <- &reply{linkDown: true}
	}
	c.mu.Unlock()

	c.Engine.Close()
	<-c.recvDone
}

// recvTask is the receiver loop. It terminates when the socket is closed.
func (c *Client) recvTask(conn *net.UnixConn) {
	defer close(c.recvDone)

	buf := make([]byte, RecvBufferSize)
	for {
		conn.SetReadDeadline(time.Now().Add(recvIdleTimeout))
		n, _, err := conn.ReadFromUnix(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				c.log.Debug().Msg("no traffic from AVS")
				continue
			}
			c.log.Warn().Err(err).Msg("receive from AVS failed")
			continue
		}

		msg := make([]byte, n)
		copy(msg, buf[:n])
		c.process(msg, n == RecvBufferSize)
	}
}

// process classifies one datagram: notification, unsolicited, mismatched, or
// the reply to the command in flight.
func (c *Client) process(msg []byte, truncated bool) {
	c.log.Debug().Str("msg", string(msg)).Msg("recv from AVS")

	if truncated {
		c.deliverFailure(errors.New("avs: datagram truncated"))
		return
	}
	if !gjson.ValidBytes(msg) {
		c.deliverFailure(errors.New("avs: reply is not valid JSON"))
		return
	}

	id := gjson.GetBytes(msg, "id")
	if !id.Exists() {
		// Maybe a notification from AVS. The command in flight keeps
		// waiting.
		c.notification(msg)
		return
	}
	if id.Type != gjson.String {
		c.deliverFailure(errors.New("avs: id is not a string"))
		return
	}

	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()

	if p == nil {
		c.log.Warn().Str("id", id.Str).Msg("unsolicited reply discarded")
		return
	}
	if id.Str != p.commID {
		c.log.Warn().Str("id", id.Str).Str("want", p.commID).Msg("reply id mismatch, discarded")
		return
	}

	resp, err := DecodeResponse(p.kind, msg)
	c.deliver(p, &reply{resp: resp, err: err})
}

// deliver hands a reply to the waiter, unless the waiter already left.
func (c *Client) deliver(p *pendingReply, r *reply) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != p {
		c.log.Warn().Str("id", p.commID).Msg("late reply discarded")
		return
	}
	c.pending = nil
	p.ch <- r
}

func (c *Client) deliverFailure(err error) {
	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()

	if p == nil {
		c.log.Warn().Err(err).Msg("undecodable datagram discarded")
		return
	}
	c.deliver(p, &reply{err: err})
}

// invoke runs one command through the dispatcher: encode, send, wait for the
// matching reply or the deadline.
func (c *Client) invoke(kind CmdType, commID string, param any) (any, CmdResult) {
	c.gate.Lock()
	defer c.gate.Unlock()

	data, err := EncodeCommand(kind, param)
	if err != nil {
		c.log.Warn().Err(err).Msg("encode command failed")
		return nil, ResultError
	}

	c.mu.Lock()
	if c.closed || !c.started {
		c.mu.Unlock()
		return nil, ResultLinkDisconnect
	}
	p := &pendingReply{kind: kind, commID: commID, ch: make(chan *reply, 1)}
	c.pending = p
	c.mu.Unlock()

	c.log.Debug().Str("msg", string(data)).Msg("send to AVS")
	if err := c.Engine.send(data); err != nil {
		c.clearPending(p)
		if errors.Is(err, net.ErrClosed) {
			return nil, ResultLinkDisconnect
		}
		c.log.Warn().Err(err).Msg("send to AVS failed")
		return nil, ResultError
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-p.ch:
		return c.finish(r)
	case <-timer.C:
		c.mu.Lock()
		if c.pending == p {
			c.pending = nil
			c.mu.Unlock()
			c.log.Warn().Str("id", commID).Msg("avs response timeout")
			return nil, ResultError
		}
		c.mu.Unlock()
		// The reply landed between the timer firing and the lock.
		return c.finish(<-p.ch)
	}
}

func (c *Client) clearPending(p *pendingReply) {
	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()
}

func (c *Client) finish(r *reply) (any, CmdResult) {
	if r.linkDown {
		return nil, ResultLinkDisconnect
	}
	if r.err != nil {
		c.log.Warn().Err(r.err).Msg("decode reply from AVS failed")
		return nil, ResultError
	}
	return r.resp, ResultSuccess
}
