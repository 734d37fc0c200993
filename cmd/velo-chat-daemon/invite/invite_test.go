package invite

import (
	"context"
	"testing"
	"time"
)

func TestPeerAddress(t *testing.T) {
	cases := []struct {
		name string
		link string
		addr string
		ok   bool
	}{
		{"full link", "https://velo.chat/?id=12D3KooWAbc", "12D3KooWAbc", true},
		{"extra params", "https://velo.chat/?utm=x&id=peer-1", "peer-1", true},
		{"no param", "https://velo.chat/", "", false},
		{"empty link", "", "", false},
		{"empty id", "https://velo.chat/?id=", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			addr, ok := PeerAddress(tc.link)
			if ok != tc.ok || addr != tc.addr {
				t.Fatalf("PeerAddress(%q) = (%q, %v), want (%q, %v)", tc.link, addr, ok, tc.addr, tc.ok)
			}
		})
	}
}

func TestLinkRoundTrip(t *testing.T) {
	link := Link("https://velo.chat/", "12D3KooWAbc")
	addr, ok := PeerAddress(link)
	if !ok || addr != "12D3KooWAbc" {
		t.Fatalf("round trip through %q = (%q, %v)", link, addr, ok)
	}
}

func TestResolveConnects(t *testing.T) {
	connected := make(chan string, 1)
	r := NewResolver(
		func() string { return "self-peer" },
		func(ctx context.Context, address string, autoSelect bool) error {
			if !autoSelect {
				t.Error("invite connection did not request auto-select")
			}
			connected <- address
			return nil
		},
	)
	r.delay = 10 * time.Millisecond

	r.Resolve(context.Background(), "https://velo.chat/?id=peer-1")

	select {
	case addr := <-connected:
		if addr != "peer-1" {
			t.Fatalf("connected to %q, want peer-1", addr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("invite never triggered a connection")
	}
}

func TestResolveSkipsSelfAndInvalidLinks(t *testing.T) {
	r := NewResolver(
		func() string { return "self-peer" },
		func(ctx context.Context, address string, autoSelect bool) error {
			t.Errorf("unexpected connection attempt to %q", address)
			return nil
		},
	)
	r.delay = time.Millisecond

	r.Resolve(context.Background(), "https://velo.chat/?id=self-peer")
	r.Resolve(context.Background(), "https://velo.chat/")
	r.Resolve(context.Background(), "")

	time.Sleep(50 * time.Millisecond)
}

func TestResolveHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewResolver(
		func() string { return "self-peer" },
		func(ctx context.Context, address string, autoSelect bool) error {
			t.Errorf("connection attempted after cancellation")
			return nil
		},
	)
	r.delay = 50 * time.Millisecond

	r.Resolve(ctx, "https://velo.chat/?id=peer-1")
	cancel()

	time.Sleep(150 * time.Millisecond)
}
