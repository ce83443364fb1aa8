// Package stream wires the streaming message pipeline: worker spawning,
// session routing, the persistence gateway, and the transcript store.
package stream

import (
	"context"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/repo"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/service"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/service/worker"
	boltdbStore "github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/store/boltdb"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/store/inmemory"
	"github.com/peregrine-desk/peregrine/pkg/logger"
)

// Config holds the configuration for the stream module.
// Follows the Config → Complete() → New(ctx) pattern.
type Config struct {
	// StoreType selects the persistence backend: "inmemory" or "boltdb".
	// Default: "boltdb".
	StoreType string `json:"store_type,omitempty"`

	// BoltDBPath is the file path for BoltDB storage (when StoreType="boltdb").
	// Default: "data/peregrine.db".
	BoltDBPath string `json:"boltdb_path,omitempty"`

	// MaxWorkers bounds concurrently live agent processes. Default: 8.
	MaxWorkers int64 `json:"max_workers,omitempty"`

	// Worker describes how to spawn the agent process.
	Worker worker.Config `json:"worker,omitempty"`
}

// CompletedConfig is the validated and completed configuration.
type CompletedConfig struct {
	*Config
}

// Complete validates and fills defaults.
func (c *Config) Complete() CompletedConfig {
	if c.StoreType == "" {
		c.StoreType = "boltdb"
	}
	if c.BoltDBPath == "" {
		c.BoltDBPath = "data/peregrine.db"
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 8
	}
	return CompletedConfig{c}
}

// Module is the top-level stream module.
//
// It exposes:
//   - Router: session routing (start/attach/detach/abort/permission flows)
//   - Gateway: persistence decisions + the persisted-message tail feed
//   - Transcripts/Conversations: read access for the REST surface
type Module struct {
	Router        *service.Router
	Gateway       *service.Gateway
	Transcripts   repo.TranscriptRepository
	Conversations repo.ConversationRepository

	boltDB *boltdbStore.DB // nil when using inmemory store
}

// Close stops all workers and releases the store handle.
func (m *Module) Close() error {
	m.Router.Shutdown()
	if m.boltDB != nil {
		return m.boltDB.Close()
	}
	return nil
}

// New creates and initializes the stream module from a completed config.
// ctx bounds the lifetime of spawned workers: they survive client detach and
// are only torn down with the module itself.
func (c CompletedConfig) New(ctx context.Context) (*Module, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		transcripts   repo.TranscriptRepository
		conversations repo.ConversationRepository
		boltDB        *boltdbStore.DB
	)

	switch c.StoreType {
	case "inmemory":
		transcripts = inmemory.NewTranscriptStore()
		conversations = inmemory.NewConversationStore()
		logger.Info("[Stream] using in-memory store")
	default:
		var err error
		boltDB, err = boltdbStore.Open(c.BoltDBPath)
		if err != nil {
			return nil, err
		}
		transcripts = boltdbStore.NewTranscriptStore(boltDB)
		conversations = boltdbStore.NewConversationStore(boltDB)
		logger.Info("[Stream] using BoltDB store at %s", c.BoltDBPath)
	}

	gateway := service.NewGateway(transcripts, conversations)

	// Deliberately ignore the per-call context: a worker's lifetime must not
	// be coupled to the request (or socket) that started the turn.
	workerCfg := c.Worker
	spawn := func(_ context.Context, conversationID string) (worker.Worker, error) {
		return worker.Spawn(ctx, workerCfg, conversationID)
	}
	router := service.NewRouter(gateway, spawn, c.MaxWorkers)

	logger.Info("[Stream] stream module initialized (store=%s, max_workers=%d, worker=%q)",
		c.StoreType, c.MaxWorkers, c.Worker.Command)

	return &Module{
		Router:        router,
		Gateway:       gateway,
		Transcripts:   transcripts,
		Conversations: conversations,
		boltDB:        boltDB,
	}, nil
}
