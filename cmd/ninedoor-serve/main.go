// Command ninedoor-serve boots a NineDoor server from a manifest file
// and listens for connections: the out-of-core harness for the
// internal/dispatcher + internal/transport library.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cohesix/ninedoor"
	"github.com/cohesix/ninedoor/internal/manifest"
	"github.com/cohesix/ninedoor/internal/manifeststore"
	"github.com/cohesix/ninedoor/internal/model"
	"github.com/cohesix/ninedoor/internal/trace"
	"github.com/cohesix/ninedoor/internal/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		manifestPath string
		listenAddr   string
		queenKeyHex  string
	)

	cmd := &cobra.Command{
		Use:   "ninedoor-serve",
		Short: "Run a NineDoor capability-oriented microkernel server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), manifestPath, listenAddr, queenKeyHex)
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "path to manifest.yaml (defaults to built-in zero-config values)")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "TCP address to listen on (empty runs in-process only)")
	cmd.Flags().StringVar(&queenKeyHex, "queen-key", "", "hex-encoded HMAC key for queen ticket verification")

	return cmd
}

func run(ctx context.Context, manifestPath, listenAddr, queenKeyHex string) error {
	m := manifest.Default()
	if manifestPath != "" {
		loaded, err := manifest.Load(manifestPath)
		if err != nil {
			return fmt.Errorf("ninedoor-serve: %w", err)
		}
		m = loaded
	}

	srv := ninedoor.New(ninedoor.Options{Manifest: m})

	if queenKeyHex != "" {
		key, err := hex.DecodeString(queenKeyHex)
		if err != nil {
			return fmt.Errorf("ninedoor-serve: --queen-key: %w", err)
		}
		srv.RegisterTicketKey(model.RoleQueen, key)
	}

	var store *manifeststore.Store
	if m.Cursor.RetainOnBoot && m.Cursor.StorePath != "" {
		s, err := manifeststore.Open(m.Cursor.StorePath)
		if err != nil {
			return fmt.Errorf("ninedoor-serve: cursor store: %w", err)
		}
		store = s
		defer store.Close()
		cursors, err := store.All()
		if err != nil {
			return fmt.Errorf("ninedoor-serve: cursor store: %w", err)
		}
		srv.TraceSink.Record(trace.LevelInfo, "boot", "", fmt.Sprintf("retained %d telemetry cursors", len(cursors)))
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	inproc := transport.NewInProcessListener()
	defer inproc.Close()

	errCh := make(chan error, 2)
	go func() {
		errCh <- ninedoor.Serve(ctx, inproc, srv)
	}()

	var tcpListener *transport.TCPListener
	if listenAddr != "" {
		l, err := transport.ListenTCP(listenAddr)
		if err != nil {
			return fmt.Errorf("ninedoor-serve: %w", err)
		}
		tcpListener = l
		defer tcpListener.Close()
		fmt.Printf("ninedoor-serve: listening on %s\n", listenAddr)
		go func() {
			errCh <- ninedoor.Serve(ctx, tcpListener, srv)
		}()
	}

	srv.TraceSink.Record(trace.LevelInfo, "boot", "", "server ready")
	fmt.Println("ninedoor-serve: server ready, press Ctrl+C to stop")

	select {
	case <-ctx.Done():
		srv.TraceSink.Record(trace.LevelInfo, "boot", "", "received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ninedoor-serve: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	<-shutdownCtx.Done()

	return nil
}
