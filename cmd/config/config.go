package config

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	defaultKeyFileName = "identity.key"
	defaultDBFileName  = "velo.db"
	defaultAPIAddr     = "127.0.0.1:0"
	defaultInviteBase  = "https://velo.chat/"

	geminiKeyEnv  = "GEMINI_API_KEY"
	passphraseEnv = "VELO_KEY_PASSPHRASE"
)

var defaultBootstrapNodes = []string{
	"/ip4/13.61.254.164/tcp/4001/p2p/12D3KooWFujV1a69zhXj7DZeQGKh96ubEVvPBqptHAGYpd6TGdFn",
	"/ip4/51.21.217.209/tcp/4001/p2p/12D3KooWDW4onEGqyg7Tu9HP8zgnJKZvbo2hgPin63XSVVTsd2eN",
}

// P2PConfig holds settings related to the libp2p node and network.
type P2PConfig struct {
	ListenAddrs         []string
	BootstrapPeers      []peer.AddrInfo
	UsePublicBootstraps bool
	PrivateKeyPath      string
	DbPath              string
	DHTProtocolID       string // Only used if not using public bootstrap nodes
	EnableMDNS          bool
	MDNSServiceTag      string
}

// APIConfig holds settings for the control API.
type APIConfig struct {
	ListenAddr string
}

// AppConfig holds chat-level settings.
type AppConfig struct {
	DisplayName   string
	InviteLink    string // consumed once at startup, may be empty
	InviteBaseURL string
	GeminiAPIKey  string
	KeyPassphrase []byte
}

// Config holds the overall application configuration.
type Config struct {
	P2P P2PConfig
	API APIConfig
	App AppConfig
}

// Load reads configuration from flags and environment.
func Load() (*Config, error) {
	usePubBootstraps := flag.Bool("pub", false, "Use public bootstrap nodes instead of private ones.")
	dhtProtoID := flag.String("dhtproto", "/velo-chat-daemon/kad/1.0.0", "DHT Protocol ID (used only with private bootstraps).")
	enableMDNS := flag.Bool("mdns", true, "Enable mDNS local discovery.")
	mdnsTag := flag.String("mdnstag", "velo-chat-daemon.local", "Service tag for mDNS discovery.")
	apiListenAddr := flag.String("api", defaultAPIAddr, "Host and port for the API server (e.g., 127.0.0.1:0)")
	displayName := flag.String("name", "", "Display name shown to peers. Defaults to a name derived from the node address.")
	inviteLink := flag.String("invite", "", "Invite link to resolve at startup.")
	inviteBase := flag.String("invite-base", defaultInviteBase, "Base URL for generated invite links.")

	flag.Parse()

	// Determine App Data Directory
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("could not determine user config directory: %w", err)
	}

	appDataDir := filepath.Join(configDir, "velo-chat-daemon")
	if err := os.MkdirAll(appDataDir, 0700); err != nil {
		return nil, fmt.Errorf("could not create app data directory %s: %w", appDataDir, err)
	}

	var bootstrapPeers []peer.AddrInfo
	if *usePubBootstraps {
		log.Println("Using Public Libp2p Bootstrap Peers.")
		bootstrapPeers = dht.GetDefaultBootstrapPeerAddrInfos()
	} else {
		bootstrapPeers = AddrInfosFromStrings(defaultBootstrapNodes)
		if len(bootstrapPeers) == 0 {
			return nil, errors.New("no valid private bootstrap peers could be parsed")
		}
		log.Printf("Using Private Bootstrap Peers.")
	}

	cfg := &Config{
		P2P: P2PConfig{
			ListenAddrs: []string{
				"/ip4/0.0.0.0/tcp/0",
				"/ip6/::/tcp/0",
				"/ip4/0.0.0.0/udp/0/quic-v1",
				"/ip6/::/udp/0/quic-v1",
			},
			BootstrapPeers:      bootstrapPeers,
			UsePublicBootstraps: *usePubBootstraps,
			PrivateKeyPath:      filepath.Join(appDataDir, defaultKeyFileName),
			DbPath:              filepath.Join(appDataDir, defaultDBFileName),
			DHTProtocolID:       *dhtProtoID,
			EnableMDNS:          *enableMDNS,
			MDNSServiceTag:      *mdnsTag,
		},
		API: APIConfig{
			ListenAddr: *apiListenAddr,
		},
		App: AppConfig{
			DisplayName:   *displayName,
			InviteLink:    *inviteLink,
			InviteBaseURL: *inviteBase,
			GeminiAPIKey:  os.Getenv(geminiKeyEnv),
			KeyPassphrase: []byte(os.Getenv(passphraseEnv)),
		},
	}

	return cfg, nil
}

// AddrInfosFromStrings parses a slice of multiaddr strings into AddrInfo objects.
func AddrInfosFromStrings(addrStrings []string) []peer.AddrInfo {
	var addrInfos []peer.AddrInfo
	for _, addrStr := range addrStrings {
		addrInfo, err := peer.AddrInfoFromString(addrStr)
		if err != nil {
			log.Printf("Error parsing bootstrap peer addr %s: %v", addrStr, err)
			continue
		}
		addrInfos = append(addrInfos, *addrInfo)
	}
	return addrInfos
}
