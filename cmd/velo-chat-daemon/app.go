package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"velo-chat-daemon/cmd/config"
	"velo-chat-daemon/cmd/velo-chat-daemon/api"
	"velo-chat-daemon/cmd/velo-chat-daemon/assistant"
	"velo-chat-daemon/cmd/velo-chat-daemon/chat"
	"velo-chat-daemon/cmd/velo-chat-daemon/connection"
	"velo-chat-daemon/cmd/velo-chat-daemon/identity"
	"velo-chat-daemon/cmd/velo-chat-daemon/internal/bus"
	"velo-chat-daemon/cmd/velo-chat-daemon/internal/core"
	"velo-chat-daemon/cmd/velo-chat-daemon/invite"
	"velo-chat-daemon/cmd/velo-chat-daemon/p2p"
	"velo-chat-daemon/cmd/velo-chat-daemon/protocol"
	"velo-chat-daemon/cmd/velo-chat-daemon/storage"
	"velo-chat-daemon/cmd/velo-chat-daemon/store"
)

// App coordinates the lifecycle and dependencies of the daemon services.
type App struct {
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      *config.Config
	appState *core.AppState
	bus      *bus.EventBus

	db    *storage.DB
	store *store.Store

	registry    *connection.Registry
	router      *protocol.Router
	chatService *chat.Service

	// P2P components, populated by startP2P.
	p2pMu   sync.Mutex
	node    *p2p.Node
	dht     *p2p.DHT
	mdns    *p2p.MDNSDiscovery
	connSvc *connection.Service

	apiListener net.Listener
	apiServer   *http.Server

	wg sync.WaitGroup
}

// NewApp creates the application coordinator and the services that do not
// depend on the P2P host. The transport stack itself starts in Start.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	db, err := storage.NewDB(cfg.P2P.DbPath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	records, err := storage.NewSQLiteRecordStore(db)
	if err != nil {
		cancel()
		db.Close()
		return nil, fmt.Errorf("failed to create record store: %w", err)
	}

	eventBus := bus.NewEventBus()
	st := store.New(records, eventBus)
	st.Load(ctx)

	app := &App{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		appState: core.NewAppState(),
		bus:      eventBus,
		db:       db,
		store:    st,
	}

	app.registry = connection.NewRegistry(st, eventBus)
	app.router = protocol.NewRouter(st, app.registry, st.User)
	app.chatService = chat.NewService(st, app.registry, assistant.NewGemini(cfg.App.GeminiAPIKey))

	return app, nil
}

// Start brings up the control API and kicks off P2P initialization in the
// background.
func (a *App) Start() error {
	log.Println("App: Starting services...")

	listener, server, _, err := api.StartAPIServer(
		a.ctx,
		a.cfg.API.ListenAddr,
		a.appState,
		a.bus,
		a.store,
		a.chatService,
		a.connectFunc,
		a.retryInit,
		a.inviteLink,
	)
	if err != nil {
		a.cancel()
		return fmt.Errorf("failed to start API server: %w", err)
	}
	a.apiListener = listener
	a.apiServer = server

	a.wg.Add(1)
	go a.startP2P()

	log.Println("App: Services initiated.")
	return nil
}

// Stop gracefully shuts down the services in reverse dependency order.
func (a *App) Stop() error {
	log.Println("App: Stopping services...")

	a.appState.Mu.Lock()
	a.appState.State = core.StateShuttingDown
	a.appState.Mu.Unlock()
	a.cancel()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("App: API server shutdown error: %v", err)
			record(err)
		}
		shutdownCancel()
	}

	a.p2pMu.Lock()
	mdns, kadDHT, node := a.mdns, a.dht, a.node
	a.p2pMu.Unlock()

	if mdns != nil {
		if err := mdns.Stop(); err != nil {
			log.Printf("App: mDNS stop error: %v", err)
			record(err)
		}
	}
	if kadDHT != nil {
		if err := kadDHT.Close(); err != nil {
			log.Printf("App: DHT close error: %v", err)
			record(err)
		}
	}
	if node != nil {
		if err := node.Close(); err != nil {
			log.Printf("App: Node close error: %v", err)
			record(err)
		}
	}

	if err := a.db.Close(); err != nil {
		log.Printf("App: Database close error: %v", err)
		record(err)
	}

	log.Println("App: Waiting for background tasks...")
	a.wg.Wait()

	log.Println("App: Services stopped.")
	return firstErr
}

// WaitForShutdown blocks until an OS signal arrives or the app context is
// cancelled internally.
func (a *App) WaitForShutdown() {
	log.Println("App: Waiting for shutdown signal (Ctrl+C)...")
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-c:
		log.Printf("\r- Signal %s received. Initiating shutdown...", sig)
	case <-a.ctx.Done():
		log.Println("App: Shutdown initiated by internal context cancellation.")
	}
	signal.Stop(c)
	a.cancel()
	log.Println("App: Shutdown signal processed.")
}

// connectFunc exposes the current dial entry point to the API. It returns
// nil until the P2P stack is running.
func (a *App) connectFunc() api.ConnectFunc {
	a.p2pMu.Lock()
	defer a.p2pMu.Unlock()
	if a.connSvc == nil {
		return nil
	}
	return a.connSvc.Connect
}

// inviteLink builds the shareable link for the local node. Empty until the
// node address is known.
func (a *App) inviteLink() string {
	addr := a.store.User().ID
	if addr == "" {
		return ""
	}
	return invite.Link(a.cfg.App.InviteBaseURL, addr)
}

// retryInit re-runs P2P initialization after a startup failure.
func (a *App) retryInit() {
	a.appState.Mu.Lock()
	if a.appState.State != core.StateError {
		a.appState.Mu.Unlock()
		return
	}
	a.appState.State = core.StateInitializing
	a.appState.LastError = nil
	a.appState.Mu.Unlock()

	log.Println("App: Retrying P2P initialization...")
	a.wg.Add(1)
	go a.startP2P()
}

// startP2P builds the libp2p node, the DHT, discovery and the chat stream
// service, then resolves the startup invite link if one was given.
func (a *App) startP2P() {
	defer a.wg.Done()

	a.appState.Mu.Lock()
	if a.appState.State == core.StateShuttingDown {
		a.appState.Mu.Unlock()
		return
	}
	a.appState.State = core.StateInitializingP2P
	a.appState.Mu.Unlock()

	privKey, err := identity.LoadOrCreate(a.cfg.P2P.PrivateKeyPath, a.cfg.App.KeyPassphrase)
	if err != nil {
		a.handleP2PStartupError(fmt.Errorf("identity setup failed: %w", err))
		return
	}

	log.Println("P2P Starter: Creating node...")
	node, err := p2p.NewNode(&a.cfg.P2P, privKey)
	if err != nil {
		a.handleP2PStartupError(fmt.Errorf("node creation failed: %w", err))
		return
	}

	a.appState.Mu.Lock()
	a.appState.Node = node.Host()
	a.appState.Mu.Unlock()

	a.adoptNodeAddress(node.Host().ID().String())

	log.Println("P2P Starter: Creating DHT...")
	var routing connection.PeerRouting
	kadDHT, err := p2p.NewDHT(a.ctx, &a.cfg.P2P, node.Host())
	if err != nil {
		log.Printf("P2P Starter: WARN - DHT setup failed: %v. Peer resolution limited to known addresses.", err)
		kadDHT = nil
	} else {
		routing = kadDHT.Instance()
		a.appState.Mu.Lock()
		a.appState.Dht = kadDHT.Instance()
		a.appState.Mu.Unlock()
	}

	var mdns *p2p.MDNSDiscovery
	if a.cfg.P2P.EnableMDNS {
		mdns = p2p.NewMDNSDiscovery(a.ctx, &a.cfg.P2P, node.Host())
		if err := mdns.Start(); err != nil {
			log.Printf("P2P Starter: WARN - mDNS start failed: %v", err)
			mdns = nil
		}
	}

	connSvc := connection.NewService(a.ctx, node.Host(), routing, a.registry, a.router)
	connSvc.Register()

	a.p2pMu.Lock()
	a.node = node
	a.dht = kadDHT
	a.mdns = mdns
	a.connSvc = connSvc
	a.p2pMu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		node.LogDetails(a.ctx)
	}()

	a.appState.Mu.Lock()
	if a.appState.State != core.StateShuttingDown {
		a.appState.State = core.StateRunning
		log.Println("P2P Starter: Stack is now Running.")
	}
	a.appState.Mu.Unlock()

	if a.cfg.App.InviteLink != "" {
		resolver := invite.NewResolver(func() string { return a.store.User().ID }, connSvc.Connect)
		resolver.Resolve(a.ctx, a.cfg.App.InviteLink)
	}
}

// adoptNodeAddress binds the transport address to the local profile and
// fills in the profile defaults on first run.
func (a *App) adoptNodeAddress(addr string) {
	a.store.AssignAddress(addr)

	profile := a.store.User()
	changed := false
	if a.cfg.App.DisplayName != "" && profile.Name != a.cfg.App.DisplayName {
		profile.Name = a.cfg.App.DisplayName
		changed = true
	}
	if profile.Name == "" {
		short := addr
		if len(short) > 4 {
			short = short[:4]
		}
		profile.Name = "Node " + short
		changed = true
	}
	if profile.Avatar == "" {
		profile.Avatar = "https://api.dicebear.com/7.x/avataaars/svg?seed=" + addr
		changed = true
	}
	if changed {
		a.store.SetUser(profile)
	}
}

// handleP2PStartupError records a fatal P2P init error. The daemon stays up
// so the error is observable over the API and a retry can be requested.
func (a *App) handleP2PStartupError(err error) {
	log.Printf("App P2P Starter: FATAL - %v", err)
	a.appState.SetError(err)
}
