package main

import (
	"log"
	"os"

	golog "github.com/ipfs/go-log/v2"

	"velo-chat-daemon/cmd/config"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("Process Starting...")

	golog.SetLogLevel("main", "info")
	golog.SetLogLevel("p2p", "info")
	golog.SetLogLevel("api", "info")
	golog.SetLogLevel("identity", "info")
	// Examples for debugging:
	// golog.SetLogLevel("autonat", "debug")
	// golog.SetLogLevel("dht", "warn")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Configuration error: %v", err)
	}

	log.Println("Initializing application...")
	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize application: %v", err)
	}

	if err := app.Start(); err != nil {
		log.Fatalf("FATAL: Failed to start application services: %v", err)
	}

	app.WaitForShutdown()

	log.Println("Process Stopping...")
	if err := app.Stop(); err != nil {
		log.Printf("ERROR: Shutdown completed with error: %v", err)
		os.Exit(1)
	}

	log.Println("Process Exited Gracefully.")
}
