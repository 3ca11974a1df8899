package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/genojob/internal/log"
	"github.com/CZERTAINLY/genojob/internal/model"
)

var (
	userConfigPath string // /default/config/path/genojob on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		d = "."
	}
	userConfigPath = filepath.Join(d, "genojob")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("genojob failed", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "genojob",
		Short:        "Asynchronous runner of genomic analysis jobs",
		SilenceUsage: true,
		// never print messages
		SilenceErrors: true,
		// parse the config, setup logging
		PersistentPreRunE: initGenojob,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is genojob.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(versionCmd)
	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides version of genojob",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Fprintln(out, "genojob: version info not available")
			return
		}

		if configPath != "" {
			fmt.Fprintf(out, "config:  %s\n", configPath)
		}
		fmt.Fprintf(out, "genojob: %s\n", info.Main.Version)
		fmt.Fprintf(out, "go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Fprintf(out, "commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Fprintf(out, "date:    %s\n", s.Value)
			case "vcs.modified":
				fmt.Fprintf(out, "dirty:   %s\n", s.Value)
			}
		}
	},
}

func newConfigCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "config prints the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output == "" {
				return model.WriteConfig(cmd.OutOrStdout(), config)
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
				return fmt.Errorf("creating directory %s: %w", filepath.Dir(output), err)
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating file %s: %w", output, err)
			}
			defer func() {
				_ = f.Close()
			}()
			if err := model.WriteConfig(f, config); err != nil {
				return fmt.Errorf("storing configuration: %w", err)
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the configuration to a file instead of stdout")
	return cmd
}

func initGenojob(cmd *cobra.Command, _ []string) error {
	if err := model.LoadEnvFiles(".env"); err != nil {
		return err
	}

	configPath = ""
	if envConfig := os.Getenv(model.EnvPrefix + "_CONFIG"); envConfig != "" {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "genojob.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	var err error
	config, err = model.LoadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Service.Verbose = true
	}

	slog.SetDefault(log.New(cmd.ErrOrStderr(), config.Service.Verbose))
	slog.Debug("genojob run", "configPath", configPath)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
