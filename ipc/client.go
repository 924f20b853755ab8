package ipc

import (
	"net"
	"sync"

	"github.com/google/uuid"
)

// Client is one endpoint of an IPC connection: on the manager side it
// represents a connected worker (created by the service's accept loop), on
// the worker side it is the dialed connection back to the manager.
type Client struct {
	conn net.Conn

	// write lock; reads happen from a single goroutine on either side.
	mu sync.Mutex

	peerPID int32
	peerUID uint32
}

// Dial connects a worker to the manager's socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, peerPID: -1}, nil
}

// Send frames and writes one message. Safe to call from the manager's
// dispatch path while the service's reader goroutine owns the read side.
func (c *Client) Send(code uint32, data []byte) error {
	msg := &Message{ID: uuid.New(), Code: code, Data: data}
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeMessage(c.conn, msg)
}

// Recv reads one message. Only the dialing (worker) side reads directly;
// manager-side reads are owned by the service.
func (c *Client) Recv() (*Message, error) {
	return readMessage(c.conn)
}

// PeerPID returns the connected process id reported by the socket layer,
// or -1 when peer credentials were unavailable.
func (c *Client) PeerPID() int32 { return c.peerPID }

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }
