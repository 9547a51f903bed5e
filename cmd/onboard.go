package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/threadclaw/threadclaw/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func runOnboard() {
	cfgPath := resolveConfigPath()
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}

	cfg := config.Default()

	var projectName, projectDir string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Discord bot token").
				Description("From the Discord developer portal, Bot tab.").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.Discord.Token).
				Validate(required("token")),
			huh.NewInput().
				Title("Guild ID").
				Description("Server to register slash commands in. Leave empty for global (slow propagation).").
				Value(&cfg.Discord.GuildID),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("First project name").
				Description("Matched against category names, lowercased with hyphens.").
				Value(&projectName).
				Validate(required("project name")),
			huh.NewInput().
				Title("Project working directory").
				Value(&projectDir).
				Validate(required("working directory")),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Engine command").
				Description("Agent CLI the adapter runs for each turn.").
				Value(&cfg.Engine.Command),
			huh.NewSelect[string]().
				Title("Session mode").
				Options(
					huh.NewOption("chat (resume conversations across turns)", "chat"),
					huh.NewOption("stateless (every turn starts fresh)", "stateless"),
				).
				Value(&cfg.Sessions.Mode),
			huh.NewSelect[string]().
				Title("State backend").
				Options(
					huh.NewOption("file (single JSON file)", "file"),
					huh.NewOption("sqlite", "sqlite"),
				).
				Value(&cfg.Sessions.Backend),
		),
	)

	if err := form.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "setup aborted:", err)
		os.Exit(1)
	}

	cfg.Projects[strings.ToLower(strings.TrimSpace(projectName))] = config.ProjectConfig{
		Workdir: strings.TrimSpace(projectDir),
	}
	if cfg.Sessions.Backend == "sqlite" {
		cfg.Sessions.Storage = "~/.threadclaw/state.db"
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "configuration invalid:", err)
		os.Exit(1)
	}
	if err := cfg.Save(cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "failed to write config:", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("Config written to", cfgPath)
	fmt.Println("Start the adapter with:  threadclaw serve")
}

func required(field string) func(string) error {
	return func(v string) error {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}
