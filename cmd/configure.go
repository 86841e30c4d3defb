package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goclaw/internal/providerreg"
)

// configureCmd is the explicit, on-demand provider-setup command named in
// SPEC_FULL.md §B.10 (not a first-run prompt) — standalone-mode provider
// setup, distinct from the managed-mode onboarding/pairing flow this rework
// excludes (see DESIGN.md).
var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Interactively add an LLM provider to llm-providers-settings.json",
	RunE:  runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	dataDir := os.Getenv("USER_DATA_DIR")
	if dataDir == "" {
		dataDir = "."
	}
	settingsPath := filepath.Join(dataDir, "llm-providers-settings.json")

	settings, err := providerreg.LoadSettings(settingsPath)
	if err != nil {
		return err
	}

	var name, baseURL, apiKey, model string
	setDefault := len(settings.Providers) == 0

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Provider name").Value(&name).Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("provider name cannot be empty")
				}
				return nil
			}),
			huh.NewInput().Title("Base URL").Value(&baseURL),
			huh.NewInput().Title("API key").EchoMode(huh.EchoModePassword).Value(&apiKey),
			huh.NewInput().Title("Default model").Value(&model),
			huh.NewConfirm().Title("Make this the default provider?").Value(&setDefault),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("configure: %w", err)
	}

	if setDefault {
		for i := range settings.Providers {
			settings.Providers[i].Default = false
		}
	}

	cfg := providerreg.ProviderConfig{
		Name:    name,
		BaseURL: baseURL,
		APIKey:  apiKey,
		Default: setDefault,
	}
	if model != "" {
		cfg.Models = []providerreg.ModelInfo{{Name: model}}
	}
	settings.Providers = append(settings.Providers, cfg)

	if err := providerreg.SaveSettings(settingsPath, settings); err != nil {
		return err
	}

	printProviderTable(settings)
	return nil
}

// printProviderTable renders a rune-width-aligned summary so provider names
// containing wide (CJK) characters still line up in a monospace terminal.
func printProviderTable(settings *providerreg.SettingsFile) {
	maxName := len("NAME")
	for _, p := range settings.Providers {
		if w := runewidth.StringWidth(p.Name); w > maxName {
			maxName = w
		}
	}
	pad := func(s string, width int) string {
		return s + strings.Repeat(" ", width-runewidth.StringWidth(s))
	}
	fmt.Printf("%s  %s\n", pad("NAME", maxName), "DEFAULT")
	for _, p := range settings.Providers {
		def := ""
		if p.Default {
			def = "*"
		}
		fmt.Printf("%s  %s\n", pad(p.Name, maxName), def)
	}
}
