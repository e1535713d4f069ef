// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/venvoy/venvoy/internal/config"
	"github.com/venvoy/venvoy/internal/container"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage venvoy configuration",
	Long: `Manage venvoy configuration.

Configuration is stored in:
  - Linux: ~/.config/venvoy/config.cue
  - macOS: ~/Library/Application Support/venvoy/config.cue
  - Windows: %APPDATA%\venvoy\config.cue`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.Context())
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir, err := config.ConfigDir()
			if err != nil {
				return err
			}
			if err := config.CreateDefaultConfig(); err != nil {
				return fmt.Errorf("failed to create config: %w", err)
			}
			fmt.Printf("%s Created default configuration at %s\n",
				SuccessStyle.Render("✓"), filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir, err := config.ConfigDir()
			if err != nil {
				return err
			}
			fmt.Printf("Config directory: %s\n", cfgDir)
			fmt.Printf("Config file: %s\n", filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))
			dataDir, err := config.DataDir()
			if err == nil {
				fmt.Printf("Environment store: %s\n", filepath.Join(dataDir, "environments"))
			}
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setConfigValue(cmd.Context(), args[0], args[1])
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output raw configuration as CUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewProvider().Load(cmd.Context(), config.LoadOptions{ConfigFilePath: cfgFile})
			if err != nil {
				return err
			}
			fmt.Print(config.GenerateCUE(cfg))
			return nil
		},
	})
}

func showConfig(ctx context.Context) error {
	cfg, err := config.NewProvider().Load(ctx, config.LoadOptions{ConfigFilePath: cfgFile})
	if err != nil {
		return err
	}

	keyStyle := CmdStyle
	valueStyle := SuccessStyle

	fmt.Println(TitleStyle.Render("Current Configuration"))
	fmt.Println()

	cfgDir, dirErr := config.ConfigDir()
	cfgPath := ""
	if dirErr == nil {
		cfgPath = filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt)
	}
	if cfgPath != "" && fileExistsCheck(cfgPath) {
		fmt.Printf("%s: %s\n", keyStyle.Render("Config file"), cfgPath)
	} else {
		fmt.Printf("%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Println()

	runtime := cfg.Runtime
	if runtime == "" {
		runtime = "(auto)"
	}
	storeDir := cfg.StoreDir
	if storeDir == "" {
		storeDir = "(platform default)"
	}
	fmt.Printf("%s: %s\n", keyStyle.Render("runtime"), valueStyle.Render(runtime))
	fmt.Printf("%s: %s\n", keyStyle.Render("store_dir"), valueStyle.Render(storeDir))

	fmt.Println()
	fmt.Printf("%s:\n", keyStyle.Render("cluster"))
	if len(cfg.Cluster.SchedulerVars) == 0 && len(cfg.Cluster.HostnamePatterns) == 0 {
		fmt.Printf("  %s\n", SubtitleStyle.Render("(built-in detection only)"))
	}
	for _, v := range cfg.Cluster.SchedulerVars {
		fmt.Printf("  scheduler_var: %s\n", valueStyle.Render(v))
	}
	for _, p := range cfg.Cluster.HostnamePatterns {
		fmt.Printf("  hostname_pattern: %s\n", valueStyle.Render(p))
	}

	fmt.Println()
	fmt.Printf("%s:\n", keyStyle.Render("autosave"))
	fmt.Printf("  enabled: %s\n", valueStyle.Render(strconv.FormatBool(cfg.AutoSave.Enabled)))
	fmt.Printf("  poll_seconds: %s\n", valueStyle.Render(strconv.Itoa(cfg.AutoSave.PollSeconds)))

	fmt.Println()
	fmt.Printf("%s:\n", keyStyle.Render("ui"))
	fmt.Printf("  color_scheme: %s\n", valueStyle.Render(cfg.UI.ColorScheme.String()))
	fmt.Printf("  verbose: %s\n", valueStyle.Render(strconv.FormatBool(cfg.UI.Verbose)))

	return nil
}

func setConfigValue(ctx context.Context, key, value string) error {
	cfg, err := config.NewProvider().Load(ctx, config.LoadOptions{ConfigFilePath: cfgFile})
	if err != nil {
		return err
	}

	switch key {
	case "runtime":
		if value != "" {
			if err := container.Kind(value).Validate(); err != nil {
				return err
			}
		}
		cfg.Runtime = value

	case "store_dir":
		cfg.StoreDir = value

	case "autosave.enabled":
		cfg.AutoSave.Enabled = value == "true" || value == "1"

	case "autosave.poll_seconds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid autosave.poll_seconds: %w", err)
		}
		cfg.AutoSave.PollSeconds = n

	case "ui.color_scheme":
		scheme := config.ColorScheme(value)
		if err := scheme.Validate(); err != nil {
			return err
		}
		cfg.UI.ColorScheme = scheme

	case "ui.verbose":
		cfg.UI.Verbose = value == "true" || value == "1"

	default:
		return fmt.Errorf("unknown configuration key: %s\nValid keys: runtime, store_dir, autosave.enabled, autosave.poll_seconds, ui.color_scheme, ui.verbose", key)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("%s Set %s = %s\n", SuccessStyle.Render("✓"), key, value)
	return nil
}

// fileExistsCheck checks if a file exists and is not a directory.
func fileExistsCheck(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
