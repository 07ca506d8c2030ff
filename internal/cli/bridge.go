package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"zentel/client/internal/api"
	"zentel/client/internal/app"
)

func init() {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Serve session state as local JSON for a UI",
		Long:  "Run a session and expose jobs, waiting comments, mentions and search over HTTP (default: $ZENTEL_BRIDGE_ADDR or 127.0.0.1:8788).",
		Run:   runBridge,
	}
	cmd.Flags().String("addr", "", "Listen address")

	RootCmd.AddCommand(cmd)
}

func runBridge(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")

	rt := mustOpen(hooks{})
	defer rt.Close()
	if addr == "" {
		addr = rt.cfg.BridgeAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt.session.Start(ctx)
	rt.index.ReindexFromLocal(ctx)
	if _, err := rt.session.ListMemos(ctx, api.ListMemosInput{Limit: 50}); err != nil {
		log.Printf("WARNING: initial memo list failed (jobs appear as memos are touched): %v", err)
	}

	httpServer := app.NewHTTPServer(rt.session, rt.cfg.CORSOrigin)
	server := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("zentel bridge listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
