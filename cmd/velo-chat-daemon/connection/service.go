package connection

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"velo-chat-daemon/cmd/velo-chat-daemon/internal/core"
)

const (
	connectTimeout = 60 * time.Second
	streamTimeout  = 30 * time.Second
)

// PacketHandler consumes one decoded wire frame from a peer.
type PacketHandler interface {
	HandlePacket(data []byte, remote string)
}

// PeerRouting resolves addresses for peers the local peerstore does not
// know yet. Satisfied by the Kademlia DHT.
type PeerRouting interface {
	FindPeer(ctx context.Context, id peer.ID) (peer.AddrInfo, error)
}

// Service owns the chat protocol streams: it accepts inbound streams,
// dials outbound ones and pumps inbound frames into the packet handler.
type Service struct {
	ctx      context.Context
	host     host.Host
	routing  PeerRouting
	registry *Registry
	handler  PacketHandler
}

func NewService(ctx context.Context, h host.Host, routing PeerRouting, registry *Registry, handler PacketHandler) *Service {
	return &Service{
		ctx:      ctx,
		host:     h,
		routing:  routing,
		registry: registry,
		handler:  handler,
	}
}

// Register installs the inbound stream handler.
func (s *Service) Register() {
	log.Printf("Connection: Registering chat protocol handler (%s)...", core.ChatProtocolID)
	s.host.SetStreamHandler(core.ChatProtocolID, s.handleStream)
}

// handleStream processes a fresh inbound stream from a peer.
func (s *Service) handleStream(stream network.Stream) {
	remote := stream.Conn().RemotePeer()
	log.Printf("Connection: Inbound stream from %s", remote.ShortString())

	ch := NewStreamChannel(stream)
	s.registry.Register(remote.String(), ch, false)
	go s.readLoop(remote.String(), stream, ch)
}

// Connect dials address and opens the chat stream. With autoSelect the
// resulting chat (new or reused) becomes the active conversation.
func (s *Service) Connect(ctx context.Context, address string, autoSelect bool) error {
	pid, err := peer.Decode(address)
	if err != nil {
		return fmt.Errorf("invalid node address %q: %w", address, err)
	}
	if pid == s.host.ID() {
		return errors.New("cannot connect to self")
	}

	if s.registry.Has(address) {
		log.Printf("Connection: Already connected to %s", pid.ShortString())
		if autoSelect {
			s.registry.Select(address)
		}
		return nil
	}

	if s.host.Network().Connectedness(pid) != network.Connected {
		addrInfo := s.host.Peerstore().PeerInfo(pid)
		if len(addrInfo.Addrs) == 0 && s.routing != nil {
			log.Printf("Connection: No known addresses for %s, querying DHT...", pid.ShortString())
			findCtx, findCancel := context.WithTimeout(ctx, connectTimeout)
			addrInfo, err = s.routing.FindPeer(findCtx, pid)
			findCancel()
			if err != nil {
				return fmt.Errorf("cannot resolve peer %s: %w", pid.ShortString(), err)
			}
		}
		if len(addrInfo.Addrs) == 0 {
			return fmt.Errorf("cannot connect to peer %s: no known addresses", pid.ShortString())
		}

		connectCtx, connectCancel := context.WithTimeout(ctx, connectTimeout)
		defer connectCancel()
		if err := s.host.Connect(connectCtx, addrInfo); err != nil {
			return fmt.Errorf("failed to establish connection with peer %s: %w", pid.ShortString(), err)
		}
		log.Printf("Connection: Connected to %s", pid.ShortString())
	}

	streamCtx, streamCancel := context.WithTimeout(ctx, streamTimeout)
	defer streamCancel()

	stream, err := s.host.NewStream(streamCtx, pid, core.ChatProtocolID)
	if err != nil {
		return fmt.Errorf("failed to open stream to peer %s: %w", pid.ShortString(), err)
	}
	log.Printf("Connection: Stream opened to %s", pid.ShortString())

	ch := NewStreamChannel(stream)
	s.registry.Register(address, ch, autoSelect)
	go s.readLoop(address, stream, ch)
	return nil
}

// readLoop pumps length-prefixed frames from the stream into the handler
// until the stream breaks, then drops its own channel. Removal is tied to
// ch so a loop dying after its channel was replaced by a newer stream
// leaves the replacement registered.
func (s *Service) readLoop(remote string, stream network.Stream, ch Channel) {
	defer s.registry.RemoveChannel(remote, ch)

	reader := bufio.NewReader(stream)
	for {
		var frameLen uint32
		if err := binary.Read(reader, binary.BigEndian, &frameLen); err != nil {
			if err != io.EOF && s.ctx.Err() == nil {
				log.Printf("Connection: Error reading length prefix from %s: %v", remote, err)
			}
			stream.Reset()
			return
		}
		if frameLen == 0 || frameLen > maxPacketSize {
			log.Printf("Connection: Bad frame length %d from %s, dropping channel", frameLen, remote)
			stream.Reset()
			return
		}

		frame := make([]byte, frameLen)
		if _, err := io.ReadFull(reader, frame); err != nil {
			log.Printf("Connection: Error reading frame (%d bytes) from %s: %v", frameLen, remote, err)
			stream.Reset()
			return
		}

		s.handler.HandlePacket(frame, remote)
	}
}
