package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/config"
	"github.com/ppiankov/trustgate/internal/sidecar"
)

var (
	serveConfig string
	serveListen string
	servePolicy string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Path to sidecar config YAML")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVar(&servePolicy, "policy", "", "Path to policy YAML (overrides config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the trust-enforcing sidecar",
	Long:  "Runs the HTTP proxy surface: POST /call/{agent}, GET /trace/{id},\nPOST /compensate/{txid}, GET /healthz.\nSupports hot-reload of the policy file.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfig)
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}
	if servePolicy != "" {
		cfg.PolicyPath = servePolicy
	}

	srv, err := sidecar.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create sidecar: %w", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloader, err := sidecar.NewReloader(srv, []string{cfg.PolicyPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	}
	if reloader != nil {
		go reloader.Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down sidecar...")
		cancel()
	}()

	fmt.Fprintf(os.Stderr, "trustgate sidecar listening on %s\n", cfg.Listen)
	fmt.Fprintf(os.Stderr, "fronting %d target agent(s)\n", len(cfg.Targets))
	if cfg.PolicyPath != "" {
		fmt.Fprintf(os.Stderr, "policy: %s (hot-reload enabled)\n", cfg.PolicyPath)
	}

	return srv.Start(ctx)
}
