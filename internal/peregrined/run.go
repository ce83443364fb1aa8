package peregrined

import (
	"github.com/peregrine-desk/peregrine/internal/peregrined/config"
)

func Run(cfg *config.Config) error {
	server, err := createAPIServer(cfg)
	if err != nil {
		return err
	}

	return server.PrepareRun().Run()
}
