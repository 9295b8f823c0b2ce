package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gobuffalo/buffalo"
	"github.com/gobuffalo/envy"
	"github.com/johnjansen/switchboard"
	"golang.org/x/net/netutil"
)

// maxConns bounds concurrent transport connections per process.
const maxConns = 4096

func main() {
	envy.Load()

	port := 8765
	if len(os.Args) > 1 {
		p, err := strconv.Atoi(os.Args[1])
		if err != nil || p < 1 || p > 65535 {
			fmt.Fprintf(os.Stderr, "invalid port %q\n", os.Args[1])
			os.Exit(1)
		}
		port = p
	}

	app := buffalo.New(buffalo.Options{
		Env:         envy.Get("GO_ENV", "development"),
		SessionName: "_switchboard_session",
	})

	var dbKey []byte
	if raw := envy.Get("LINK_DB_KEY", ""); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "LINK_DB_KEY must be hex: %v\n", err)
			os.Exit(1)
		}
		dbKey = key
	}

	kit, err := switchboard.Wire(app, switchboard.Config{
		DevMode:          envy.Get("GO_ENV", "development") == "development",
		RedisURL:         envy.Get("REDIS_URL", ""),
		LinkDBPath:       envy.Get("LINK_DB", ""),
		LinkDBKey:        dbKey,
		WalletRPCURL:     envy.Get("WALLET_RPC_URL", ""),
		NotifyWebhookURL: envy.Get("NOTIFY_WEBHOOK_URL", ""),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to wire switchboard: %v\n", err)
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bind port %d: %v\n", port, err)
		os.Exit(1)
	}
	ln = netutil.LimitListener(ln, maxConns)

	log.Printf("Switchboard: listening on :%d", port)

	srv := &http.Server{Handler: app}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Switchboard: received %s, shutting down", sig)
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		if stopErr := kit.Stop(); stopErr != nil {
			log.Printf("Switchboard: shutdown error: %v", stopErr)
		}
		os.Exit(1)
	}

	_ = srv.Close()
	if err := kit.Stop(); err != nil {
		log.Printf("Switchboard: shutdown error: %v", err)
	}
}
