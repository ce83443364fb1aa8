package options

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/peregrine-desk/peregrine/internal/peregrined/handler/middleware"
	"github.com/peregrine-desk/peregrine/pkg/utils/json"
)

// Options is the full set of peregrined run options, populated from flags
// and the YAML config file.
type Options struct {
	Serving *ServingOptions `json:"serving" mapstructure:"serving"`
	Stream  *StreamOptions  `json:"stream"  mapstructure:"stream"`
	Auth    *AuthOptions    `json:"auth"    mapstructure:"auth"`
	Log     *LogOptions     `json:"log"     mapstructure:"log"`
}

// ServingOptions configures the HTTP listener.
type ServingOptions struct {
	BindAddress     string `json:"bind-address"     mapstructure:"bind-address"`
	BindPort        int    `json:"bind-port"        mapstructure:"bind-port"`
	EnableProfiling bool   `json:"enable-profiling" mapstructure:"enable-profiling"`
}

// StreamOptions configures the streaming pipeline module.
type StreamOptions struct {
	StoreType     string   `json:"store-type"     mapstructure:"store-type"`
	BoltDBPath    string   `json:"boltdb-path"    mapstructure:"boltdb-path"`
	MaxWorkers    int64    `json:"max-workers"    mapstructure:"max-workers"`
	WorkerCommand string   `json:"worker-command" mapstructure:"worker-command"`
	WorkerArgs    []string `json:"worker-args"    mapstructure:"worker-args"`
}

// AuthOptions configures bearer token authentication.
type AuthOptions struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Token   string `json:"token"   mapstructure:"token"`
}

// LogOptions configures the log file destination.
type LogOptions struct {
	Path  string `json:"path"  mapstructure:"path"`
	Level string `json:"level" mapstructure:"level"`
}

func NewOptions() *Options {
	return &Options{
		Serving: &ServingOptions{
			BindAddress: "127.0.0.1",
			BindPort:    11777,
		},
		Stream: &StreamOptions{
			StoreType:  "boltdb",
			BoltDBPath: "data/peregrine.db",
			MaxWorkers: 8,
		},
		Auth: &AuthOptions{},
		Log: &LogOptions{
			Path:  "logs/peregrined.log",
			Level: "info",
		},
	}
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Serving.BindAddress, "serving.bind-address", o.Serving.BindAddress, "IP address to listen on.")
	fs.IntVar(&o.Serving.BindPort, "serving.bind-port", o.Serving.BindPort, "Port to listen on.")
	fs.BoolVar(&o.Serving.EnableProfiling, "serving.enable-profiling", o.Serving.EnableProfiling, "Expose pprof endpoints under /debug/pprof.")

	fs.StringVar(&o.Stream.StoreType, "stream.store-type", o.Stream.StoreType, "Persistence backend: 'boltdb' or 'inmemory'.")
	fs.StringVar(&o.Stream.BoltDBPath, "stream.boltdb-path", o.Stream.BoltDBPath, "File path for the BoltDB transcript store.")
	fs.Int64Var(&o.Stream.MaxWorkers, "stream.max-workers", o.Stream.MaxWorkers, "Maximum concurrently live agent worker processes.")
	fs.StringVar(&o.Stream.WorkerCommand, "stream.worker-command", o.Stream.WorkerCommand, "Agent worker executable to spawn per conversation.")
	fs.StringSliceVar(&o.Stream.WorkerArgs, "stream.worker-args", o.Stream.WorkerArgs, "Extra arguments passed to the agent worker.")

	fs.BoolVar(&o.Auth.Enabled, "auth.enabled", o.Auth.Enabled, "Enforce bearer token authentication for non-loopback requests.")
	fs.StringVar(&o.Auth.Token, "auth.token", o.Auth.Token, "Bearer token (or set PEREGRINE_TOKEN).")

	fs.StringVar(&o.Log.Path, "log.path", o.Log.Path, "Log file path.")
	fs.StringVar(&o.Log.Level, "log.level", o.Log.Level, "Log level: debug, info, warn, error.")
}

func (o *Options) Validate() []error {
	var errs []error
	if o.Serving.BindPort < 1 || o.Serving.BindPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid bind port %d", o.Serving.BindPort))
	}
	if o.Stream.StoreType != "boltdb" && o.Stream.StoreType != "inmemory" {
		errs = append(errs, fmt.Errorf("invalid store type %q, must be 'boltdb' or 'inmemory'", o.Stream.StoreType))
	}
	if o.Stream.WorkerCommand == "" {
		errs = append(errs, fmt.Errorf("stream.worker-command is required"))
	}
	return errs
}

// AuthConfig converts the auth options into the middleware's config.
func (o *Options) AuthConfig() *middleware.AuthConfig {
	return &middleware.AuthConfig{
		Enabled: o.Auth.Enabled,
		Token:   o.Auth.Token,
	}
}

func (o *Options) String() string {
	data, _ := json.Marshal(o)
	return string(data)
}

// Complete set default Options.
func (o *Options) Complete() error {
	return nil
}
