package ipc

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/esotel/zabbix/logger"
)

// RecvResult tells the caller how Recv obtained (or failed to obtain) a
// message, so the main loop can account idle time only when it actually
// waited.
type RecvResult int

const (
	// RecvImmediate means a message was already queued when Recv was called.
	RecvImmediate RecvResult = iota
	// RecvWaited means Recv blocked before a message arrived.
	RecvWaited
	// RecvNone means the timeout expired with no message.
	RecvNone
)

type event struct {
	client *Client
	msg    *Message
}

// Service is the manager-side message service: it owns the Unix-domain
// listener, accepts worker connections, and funnels every inbound message
// into one channel drained by the manager's Recv call. Connection reads
// happen on per-client goroutines; scheduler state is only ever touched by
// the loop calling Recv.
type Service struct {
	listener net.Listener
	path     string
	log      logger.Interface

	events chan event
	done   chan struct{}
	wg     sync.WaitGroup

	connMu sync.Mutex
	conns  []net.Conn

	closeOnce sync.Once
}

// StartService binds the manager's socket and begins accepting worker
// connections. A stale socket file from a previous run is removed first.
func StartService(socketPath string, log logger.Interface) (*Service, error) {
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}

	s := &Service{
		listener: listener,
		path:     socketPath,
		log:      log,
		events:   make(chan event, 128),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *Service) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.log.Warn(context.Background(), "accept failed: %v", err)
			continue
		}

		client := &Client{conn: conn, peerPID: -1}
		if pid, uid, err := peerCredentials(conn); err == nil {
			// Workers run under the same account as the manager; anything
			// else on the socket is a stray local process.
			if uid != uint32(os.Geteuid()) {
				s.log.Warn(context.Background(), "refusing connection from uid %d pid %d", uid, pid)
				_ = conn.Close()
				continue
			}
			client.peerPID = pid
			client.peerUID = uid
		} else {
			s.log.Debug(context.Background(), "peer credentials unavailable: %v", err)
		}

		s.connMu.Lock()
		s.conns = append(s.conns, conn)
		s.connMu.Unlock()

		s.wg.Add(1)
		go s.readLoop(client)
	}
}

func (s *Service) readLoop(client *Client) {
	defer s.wg.Done()
	for {
		msg, err := readMessage(client.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Debug(context.Background(), "client read failed: %v", err)
			}
			_ = client.conn.Close()
			return
		}
		select {
		case s.events <- event{client: client, msg: msg}:
		case <-s.done:
			_ = client.conn.Close()
			return
		}
	}
}

// Recv returns the next inbound message, waiting up to timeout for one to
// arrive. The returned client identifies which worker connection sent it.
func (s *Service) Recv(timeout time.Duration) (*Client, *Message, RecvResult) {
	select {
	case e := <-s.events:
		return e.client, e.msg, RecvImmediate
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case e := <-s.events:
		return e.client, e.msg, RecvWaited
	case <-timer.C:
		return nil, nil, RecvNone
	}
}

// Close shuts the listener down, disconnects clients, and removes the
// socket file.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.listener.Close()
		s.connMu.Lock()
		for _, conn := range s.conns {
			_ = conn.Close()
		}
		s.connMu.Unlock()
		s.wg.Wait()
		_ = os.Remove(s.path)
	})
}
