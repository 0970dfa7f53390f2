package avs

import (
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// AVSServerSocketPath is the unix socket where the AVS daemon listens
	// for commands.
	AVSServerSocketPath = "/tmp/GSSFUSrv"

	// AVSClientSocketPath is the adaptor's own datagram endpoint.
	AVSClientSocketPath = "/tmp/GSTmp"

	// RecvBufferSize bounds a single datagram from AVS. Larger datagrams
	// are truncated and fail decoding.
	RecvBufferSize = 2000

	// DefaultCmdTimeout is how long a command waits for the AVS reply.
	DefaultCmdTimeout = 5 * time.Second

	// recvIdleTimeout is the coarse health deadline on the receiver's
	// blocking read.
	recvIdleTimeout = 10 * time.Second
)

// Engine holds the datagram endpoint shared with the AVS daemon.
type Engine struct {
	conn       *net.UnixConn
	serverPath string
	clientPath string
	timeout    time.Duration
}

// NewEngine returns an Engine on the default socket paths with the default
// command timeout.
func NewEngine() *Engine {
	return &Engine{
		serverPath: AVSServerSocketPath,
		clientPath: AVSClientSocketPath,
		timeout:    DefaultCmdTimeout,
	}
}

// GetServerPath returns the destination path of outbound commands.
func (e *Engine) GetServerPath() string {
	return e.serverPath
}

// GetClientPath returns the path of our bound endpoint.
func (e *Engine) GetClientPath() string {
	return e.clientPath
}

// GetTimeout returns the per-command reply timeout.
func (e *Engine) GetTimeout() time.Duration {
	return e.timeout
}

// Bind removes a stale socket file at the client path and binds a fresh
// unixgram endpoint there.
func (e *Engine) Bind() (*net.UnixConn, error) {
	if err := os.Remove(e.clientPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: e.clientPath, Net: "unixgram"})
	if err != nil {
		log.Debug().Str("Debug ", "unixgram "+e.clientPath).Msg(err.Error())
		return nil, err
	}

	e.conn = conn
	return conn, nil
}

// send transmits one command in exactly one datagram to the AVS daemon.
func (e *Engine) send(data []byte) error {
	conn := e.conn
	if conn == nil {
		return net.ErrClosed
	}
	_, err := conn.WriteToUnix(data, &net.UnixAddr{Name: e.serverPath, Net: "unixgram"})
	return err
}

// Close shuts the socket and removes the bound file.
func (e *Engine) Close() {
	if e.conn != nil {
		e.conn.Close()
	}
	os.Remove(e.clientPath)
}

// NewCommID generates a fresh correlation id within the wire limit.
func NewCommID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:MaxUniqueID]
}
