package connection

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/network"

	"velo-chat-daemon/cmd/velo-chat-daemon/protocol"
)

// maxPacketSize bounds a single wire frame. A MESSAGE packet is text plus
// envelope; anything past this is a broken or hostile peer.
const maxPacketSize = 1 << 20

// Channel is an established, ordered, reliable packet link to one peer.
type Channel interface {
	Send(pkt protocol.Packet) error
	Close() error
}

// streamChannel frames packets over a libp2p stream as a big-endian uint32
// length prefix followed by the canonical JSON packet bytes.
type streamChannel struct {
	stream network.Stream
	writer *bufio.Writer
	mu     sync.Mutex
}

// NewStreamChannel wraps an open stream into a Channel.
func NewStreamChannel(stream network.Stream) Channel {
	return &streamChannel{
		stream: stream,
		writer: bufio.NewWriter(stream),
	}
}

func (c *streamChannel) Send(pkt protocol.Packet) error {
	data, err := protocol.Encode(pkt)
	if err != nil {
		return err
	}
	if len(data) > maxPacketSize {
		return fmt.Errorf("packet of %d bytes exceeds frame limit", len(data))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := binary.Write(c.writer, binary.BigEndian, uint32(len(data))); err != nil {
		c.stream.Reset()
		return fmt.Errorf("failed to write packet length prefix: %w", err)
	}
	if _, err := c.writer.Write(data); err != nil {
		c.stream.Reset()
		return fmt.Errorf("failed to write packet content: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		c.stream.Reset()
		return fmt.Errorf("failed to flush packet: %w", err)
	}
	return nil
}

func (c *streamChannel) Close() error {
	return c.stream.Close()
}
