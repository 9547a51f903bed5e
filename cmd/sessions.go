package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/threadclaw/threadclaw/internal/config"
	"github.com/threadclaw/threadclaw/internal/state"
	filestate "github.com/threadclaw/threadclaw/internal/state/file"
	sqlitestate "github.com/threadclaw/threadclaw/internal/state/sqlite"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect persisted sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all sessions",
		Run: func(cmd *cobra.Command, args []string) {
			runSessionsList()
		},
	})
	return cmd
}

func runSessionsList() {
	cfgPath := resolveConfigPath()
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	var store state.Store
	switch cfg.Sessions.Backend {
	case "sqlite":
		store, err = sqlitestate.Open(cfg.StoragePath())
	default:
		store, err = filestate.Open(cfg.StoragePath())
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open state store:", err)
		os.Exit(1)
	}
	defer store.Close()

	all, err := store.ListSessions()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to list sessions:", err)
		os.Exit(1)
	}
	if len(all) == 0 {
		fmt.Println("no sessions")
		return
	}

	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "THREAD\tPROJECT\tBRANCH\tSTATUS\tRESUMABLE\tUPDATED")
	for _, s := range all {
		resumable := "no"
		if s.ResumeToken != "" {
			resumable = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ThreadID, s.ProjectID, s.Branch, s.Status, resumable,
			s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
}
