package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/blocklab/blocklab/internal/config"
	"github.com/blocklab/blocklab/internal/server"
	"github.com/blocklab/blocklab/internal/session"
	"github.com/blocklab/blocklab/internal/store"
	"github.com/blocklab/blocklab/internal/store/sqlite"
)

var (
	languageFlag string
	forceFlag    bool
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session", "s"},
	Short:   "Manage session records",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <code>",
	Short: "Print a session record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session with a fresh join code",
	RunE:  runSessionsCreate,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <code>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsCreateCmd, sessionsDeleteCmd)

	sessionsCreateCmd.Flags().StringVar(&languageFlag, "language", "", "Locale for system messages (default from config)")
	sessionsDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func openStore() (store.Store, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	st, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return st, cfg, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.List(context.Background())
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	fmt.Printf("%-8s %-8s %-8s %-8s %-6s %s\n", "CODE", "RUNNING", "CLIENTS", "ENTRIES", "LANG", "UPDATED")
	fmt.Println(strings.Repeat("─", 60))

	for _, r := range records {
		fmt.Printf("%-8s %-8v %-8d %-8d %-6s %s\n",
			r.SessionCode, r.IsRunning, len(r.Clients), len(r.Dialogue),
			r.Language, r.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.Get(context.Background(), args[0])
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runSessionsCreate(cmd *cobra.Command, args []string) error {
	st, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	language := languageFlag
	if language == "" {
		language = cfg.Session.DefaultLanguage
	}

	rec := session.New(server.GenerateCode(), uuid.NewString(), language)
	if err := st.Put(context.Background(), rec); err != nil {
		return err
	}

	fmt.Printf("Created session %s (owner %s)\n", rec.SessionCode, rec.UUID)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	code := args[0]
	if _, err := st.Get(context.Background(), code); err != nil {
		return err
	}

	if !forceFlag {
		fmt.Printf("Delete session %s? [y/N] ", code)
		var answer string
		fmt.Fscanln(os.Stdin, &answer)
		if !strings.EqualFold(answer, "y") {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := st.Delete(context.Background(), code); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s\n", code)
	return nil
}
