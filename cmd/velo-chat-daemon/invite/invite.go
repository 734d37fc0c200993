package invite

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"time"
)

// startupDelay gives the transport a moment to finish initializing before
// the invite connection is attempted. A deliberate, bounded workaround for
// transport-readiness races, not a retry policy.
const startupDelay = 1500 * time.Millisecond

// addressParam is the single query parameter carrying the target node
// address in an invite link.
const addressParam = "id"

// PeerAddress extracts the target node address from an invite link.
func PeerAddress(link string) (string, bool) {
	if link == "" {
		return "", false
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", false
	}
	addr := u.Query().Get(addressParam)
	if addr == "" {
		return "", false
	}
	return addr, true
}

// Link builds the shareable invite link for the local node address.
func Link(base, address string) string {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Sprintf("%s?%s=%s", base, addressParam, url.QueryEscape(address))
	}
	q := u.Query()
	q.Set(addressParam, address)
	u.RawQuery = q.Encode()
	return u.String()
}

// Resolver turns a consumed invite link into a delayed outbound connection
// attempt with auto-select.
type Resolver struct {
	delay   time.Duration
	self    func() string
	connect func(ctx context.Context, address string, autoSelect bool) error
}

func NewResolver(self func() string, connect func(ctx context.Context, address string, autoSelect bool) error) *Resolver {
	return &Resolver{
		delay:   startupDelay,
		self:    self,
		connect: connect,
	}
}

// Resolve schedules the connection attempt for the address carried by
// link, if any. Links targeting the local node are ignored.
func (r *Resolver) Resolve(ctx context.Context, link string) {
	addr, ok := PeerAddress(link)
	if !ok {
		return
	}
	if addr == r.self() {
		log.Println("Invite: Link targets the local node, ignoring.")
		return
	}

	log.Printf("Invite: Connecting to %s in %s...", addr, r.delay)
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.delay):
		}
		if err := r.connect(ctx, addr, true); err != nil {
			log.Printf("Invite: Connection to %s failed: %v", addr, err)
		}
	}()
}
