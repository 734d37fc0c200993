package p2p

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	rcmgr "github.com/libp2p/go-libp2p/p2p/host/resource-manager"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	tls "github.com/libp2p/go-libp2p/p2p/security/tls"
	quic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"

	"velo-chat-daemon/cmd/config"
)

// Node manages the creation and lifecycle of the core libp2p host. The
// host's peer ID is the daemon's node address.
type Node struct {
	host host.Host
	cfg  *config.P2PConfig
}

// NewNode creates the libp2p host.
func NewNode(cfg *config.P2PConfig, privKey crypto.PrivKey) (*Node, error) {
	log.Println("P2P Node: Initializing...")
	if cfg == nil {
		return nil, errors.New("p2p config cannot be nil")
	}

	var idOpt libp2p.Option
	if privKey != nil {
		idOpt = libp2p.Identity(privKey)
	}

	limiter := rcmgr.NewFixedLimiter(rcmgr.DefaultLimits.AutoScale())
	rm, err := rcmgr.NewResourceManager(limiter)
	if err != nil {
		return nil, fmt.Errorf("resource manager creation failed: %w", err)
	}

	opts := []libp2p.Option{
		idOpt,
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(quic.NewTransport),
		libp2p.Security(tls.ID, tls.New),
		libp2p.Security(noise.ID, noise.New),
		libp2p.ResourceManager(rm),

		libp2p.NATPortMap(),
		libp2p.EnableNATService(),
		libp2p.EnableAutoNATv2(),
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("libp2p.New failed: %w", err)
	}

	log.Printf("P2P Node: Host created with ID %s", h.ID().ShortString())
	for _, addr := range h.Addrs() {
		log.Printf("P2P Node: Listening on %s/p2p/%s", addr, h.ID())
	}

	return &Node{host: h, cfg: cfg}, nil
}

// Host returns the underlying libp2p host.
func (n *Node) Host() host.Host {
	return n.host
}

// Close shuts down the host.
func (n *Node) Close() error {
	log.Println("P2P Node: Closing host...")
	if n.host == nil {
		return nil
	}
	err := n.host.Close()
	if err == nil {
		log.Println("P2P Node: Host closed.")
	} else {
		log.Printf("P2P Node: Error closing host: %v", err)
	}
	return err
}

// LogDetails periodically logs addresses and connected peers until ctx is
// cancelled.
func (n *Node) LogDetails(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		log.Printf("Periodic Check: Own addresses for %s:", n.host.ID().ShortString())
		for _, addr := range n.host.Addrs() {
			log.Printf("    - %s", addr)
		}
		log.Printf("Periodic Check: Connected peers of %s:", n.host.ID().ShortString())
		for _, peerID := range n.host.Network().Peers() {
			log.Printf("    - %s", peerID)
		}
	}
}
