package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blocklab/blocklab/internal/config"
	"github.com/blocklab/blocklab/internal/i18n"
	"github.com/blocklab/blocklab/internal/server"
	"github.com/blocklab/blocklab/internal/store/sqlite"
	"github.com/blocklab/blocklab/internal/tutor"
	"github.com/blocklab/blocklab/internal/vm"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the BlockLab session server",
	Long: `Start the BlockLab server with the session WebSocket endpoint.

Clients connect to /session/connect/{code}?uuid=... and resolve a join code
via /session/get/{code}.

Examples:
  blocklab serve
  blocklab serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	translator, err := i18n.Load()
	if err != nil {
		return fmt.Errorf("loading locales: %w", err)
	}

	var tut tutor.Collaborator
	if cfg.HasTutor() {
		tut = tutor.NewOpenAIClient(cfg.Tutor.BaseURL, cfg.Tutor.APIKey, cfg.Tutor.Model)
		log.Printf("Tutor: %s via %s", cfg.Tutor.Model, cfg.Tutor.BaseURL)
	} else {
		log.Println("Tutor: not configured, replies disabled")
	}

	limits := vm.DefaultLimits()
	if cfg.VM.MaxCallStackSize > 0 {
		limits.MaxCallStackSize = cfg.VM.MaxCallStackSize
	}
	limits.ExecTimeout = cfg.VM.ExecTimeout
	limits.FlushInterval = cfg.VM.FlushInterval
	vms := vm.NewManager(store, limits)

	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	srv := server.New(store, vms, tut, translator, cfg.Session.DefaultLanguage)

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		srv.Shutdown(context.Background())
	}()

	return srv.Start(port)
}
