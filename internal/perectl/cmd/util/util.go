// Package util holds flags and helpers shared by perectl subcommands.
package util

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/peregrine-desk/peregrine/internal/perectl/client"
)

// ConnectionOptions are the daemon connection flags shared by all
// subcommands.
type ConnectionOptions struct {
	ServerAddr string
	Token      string
}

// NewConnectionOptions returns connection options with defaults.
func NewConnectionOptions() *ConnectionOptions {
	return &ConnectionOptions{
		ServerAddr: "http://localhost:11777",
	}
}

// AddFlags registers the connection flags.
func (o *ConnectionOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ServerAddr, "server", o.ServerAddr, "Peregrined HTTP server address")
	fs.StringVar(&o.Token, "token", o.Token, "Bearer token (or set PEREGRINE_TOKEN)")
}

// Client builds a daemon client from the options.
func (o *ConnectionOptions) Client() *client.Client {
	token := o.Token
	if token == "" {
		token = os.Getenv("PEREGRINE_TOKEN")
	}
	return client.New(o.ServerAddr, token)
}

// CheckErr prints err to stderr and exits non-zero when err is non-nil.
func CheckErr(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
