package peregrined

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/peregrine-desk/peregrine/internal/peregrined/config"
	"github.com/peregrine-desk/peregrine/internal/peregrined/options"
	"github.com/peregrine-desk/peregrine/pkg/logger"
)

// NewPeregrinedCommand creates the `peregrined` command with default arguments.
func NewPeregrinedCommand() *cobra.Command {
	opts := options.NewOptions()
	var configFile string

	cmd := &cobra.Command{
		Use:   "peregrined",
		Short: "peregrined is the streaming sidecar daemon for the Peregrine desktop client",
		Long: `The peregrined daemon owns agent worker processes and their event streams.

It spawns one worker per conversation, forwards the worker's typed event
stream to the attached desktop client over WebSocket, and persists the
transcript to a local BoltDB log so a client can detach and re-attach
mid-stream without losing or duplicating messages.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(configFile, opts); err != nil {
				return err
			}
			if errs := opts.Validate(); len(errs) > 0 {
				msgs := make([]string, 0, len(errs))
				for _, e := range errs {
					msgs = append(msgs, e.Error())
				}
				return fmt.Errorf("invalid options: %s", strings.Join(msgs, "; "))
			}

			if err := logger.InitLog(opts.Log.Path); err != nil {
				return err
			}
			defer logger.FlushLog()
			logger.SetLevel(opts.Log.Level)

			cfg, err := config.CreateConfigFromOptions(opts)
			if err != nil {
				return err
			}
			return Run(cfg)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the peregrined YAML configuration file.")
	opts.AddFlags(cmd.Flags())
	_ = viper.BindPFlags(cmd.Flags())

	return cmd
}

// loadConfig reads the YAML config file (if any) into opts and keeps watching
// it. Flag values take precedence over file values via viper's binding.
func loadConfig(configFile string, opts *options.Options) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("peregrined")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.peregrine")
		viper.AddConfigPath("/etc/peregrine")
	}
	viper.SetEnvPrefix("PEREGRINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" {
			return fmt.Errorf("read config %q: %w", configFile, err)
		}
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
		// No config file: flags and env only.
	}

	if err := viper.Unmarshal(opts); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("[Peregrined] config file changed: %s", e.Name)
		if err := viper.Unmarshal(opts); err != nil {
			logger.Warn("[Peregrined] reload config: %v", err)
			return
		}
		logger.SetLevel(opts.Log.Level)
	})
	viper.WatchConfig()

	return nil
}
