package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"reelhook/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))
	configCmd.AddCommand(newConfigValidateCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set asr.appid, asr.access_token, llm.api_key, and video.api_key (or the REELHOOK_* environment variables) before running jobs.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			if !reveal {
				shown.ASR.AccessToken = mask(shown.ASR.AccessToken)
				shown.LLM.APIKey = mask(shown.LLM.APIKey)
				shown.Video.APIKey = mask(shown.Video.APIKey)
			}
			data, err := config.Encode(shown)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", ctx.configPath, data)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print credentials unmasked")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.ensureConfig(); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", ctx.configPath)
			if _, err := os.Stat(ctx.configPath); err != nil {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newPresetCommand(ctx *commandContext) *cobra.Command {
	presetCmd := &cobra.Command{
		Use:   "preset",
		Short: "Manage named configuration presets",
	}

	presetCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := presetStore(ctx)
			if err != nil {
				return err
			}
			presets, err := store.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(presets) == 0 {
				fmt.Fprintln(out, "No presets")
				return nil
			}
			rows := make([][]string, 0, len(presets))
			for _, preset := range presets {
				rows = append(rows, []string{preset.Name, preset.UpdatedAt, preset.Config.LLM.Model, preset.Config.Video.Model})
			}
			fmt.Fprintln(out, renderTable([]string{"Name", "Updated", "LLM model", "Video model"}, rows, nil))
			return nil
		},
	})

	presetCmd.AddCommand(&cobra.Command{
		Use:   "save <name>",
		Short: "Save the current configuration under a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := presetStore(ctx)
			if err != nil {
				return err
			}
			preset, err := store.Save(args[0], *ctx.config)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved preset %q\n", preset.Name)
			return nil
		},
	})

	presetCmd.AddCommand(&cobra.Command{
		Use:   "load <name>",
		Short: "Replace the configuration file with a saved preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := presetStore(ctx)
			if err != nil {
				return err
			}
			preset, err := store.Get(args[0])
			if err != nil {
				return err
			}
			if err := preset.Config.Validate(); err != nil {
				return fmt.Errorf("preset %q is invalid: %w", preset.Name, err)
			}
			if err := config.WriteFile(ctx.configPath, preset.Config); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded preset %q into %s\n", preset.Name, ctx.configPath)
			return nil
		},
	})

	presetCmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a saved preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := presetStore(ctx)
			if err != nil {
				return err
			}
			removed, err := store.Delete(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("%w: %s", config.ErrPresetNotFound, strings.TrimSpace(args[0]))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted preset %q\n", strings.TrimSpace(args[0]))
			return nil
		},
	})

	return presetCmd
}

func presetStore(ctx *commandContext) (*config.PresetStore, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, errors.New("configuration unavailable")
	}
	return config.NewPresetStore(cfg.PresetsPath()), nil
}

func mask(secret string) string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}
