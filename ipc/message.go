// Package ipc implements the local message service connecting the alert
// manager to its delivery workers: a Unix-domain socket listener that
// multiplexes worker connections into a single receive call, plus the wire
// framing for the messages exchanged over it.
//
// Framing is length-prefixed binary: a 16-byte message id, a 4-byte
// little-endian command code, a 4-byte little-endian payload length, then
// the payload. Payloads themselves are JSON-encoded by the worker package.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Command codes carried in the message header. Register and Result flow
// worker to manager; the rest are dispatch commands flowing manager to
// worker.
const (
	CodeRegister uint32 = iota + 1
	CodeResult
	CodeEmail
	CodeJabber
	CodeSMS
	CodeEZTexting
	CodeExec
)

// maxPayloadLen bounds a single message so a corrupt length prefix cannot
// drive an unbounded allocation.
const maxPayloadLen = 16 << 20

const headerLen = 16 + 4 + 4

// Message is one framed IPC message. ID correlates a dispatch with its log
// lines on both sides of the socket.
type Message struct {
	ID   uuid.UUID
	Code uint32
	Data []byte
}

func writeMessage(w io.Writer, msg *Message) error {
	if len(msg.Data) > maxPayloadLen {
		return fmt.Errorf("payload length %d exceeds limit", len(msg.Data))
	}
	buf := make([]byte, headerLen+len(msg.Data))
	copy(buf[:16], msg.ID[:])
	binary.LittleEndian.PutUint32(buf[16:20], msg.Code)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(msg.Data)))
	copy(buf[headerLen:], msg.Data)
	_, err := w.Write(buf)
	return err
}

func readMessage(r io.Reader) (*Message, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	msg := &Message{}
	copy(msg.ID[:], header[:16])
	msg.Code = binary.LittleEndian.Uint32(header[16:20])
	size := binary.LittleEndian.Uint32(header[20:24])
	if size > maxPayloadLen {
		return nil, fmt.Errorf("payload length %d exceeds limit", size)
	}
	if size > 0 {
		msg.Data = make([]byte, size)
		if _, err := io.ReadFull(r, msg.Data); err != nil {
			return nil, err
		}
	}
	return msg, nil
}
