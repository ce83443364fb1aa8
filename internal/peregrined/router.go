package peregrined

import (
	"net/http"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	hoststat "github.com/likexian/host-stat-go"

	"github.com/peregrine-desk/peregrine/internal/peregrined/handler/middleware"
	v1 "github.com/peregrine-desk/peregrine/internal/peregrined/handler/v1"
	"github.com/peregrine-desk/peregrine/internal/peregrined/handler/ws"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream"
)

// routerDeps holds the dependencies needed for route registration.
type routerDeps struct {
	streamModule    *stream.Module
	authConfig      *middleware.AuthConfig
	enableProfiling bool
}

func initRouter(g *gin.Engine, deps *routerDeps) {
	installMiddleware(g, deps)
	installController(g, deps)
}

func installMiddleware(g *gin.Engine, deps *routerDeps) {
	g.Use(gin.Recovery())
	g.Use(middleware.CORS())

	if deps.authConfig != nil {
		g.Use(middleware.BearerAuth(deps.authConfig))
	}
}

func installController(g *gin.Engine, deps *routerDeps) {
	// Handlers.
	wsHandler := ws.NewHandler(deps.streamModule.Router)
	convHandler := v1.NewConversationHandler(deps.streamModule)
	tailHandler := v1.NewTailHandler(deps.streamModule)

	g.GET("/healthz", healthz)

	if deps.enableProfiling {
		pprof.Register(g)
	}

	// --- /v1 route group ---
	apiV1 := g.Group("/v1")
	{
		// Live bidirectional stream.
		apiV1.GET("/ws", wsHandler.Handle)

		// Conversation registry and transcripts.
		apiV1.GET("/conversations", convHandler.List)
		apiV1.GET("/conversations/:id", convHandler.Get)
		apiV1.GET("/conversations/:id/messages", convHandler.Messages)
		apiV1.DELETE("/conversations/:id", convHandler.Delete)
		apiV1.POST("/conversations/:id/abort", convHandler.Abort)

		// Durable-log follower.
		apiV1.GET("/conversations/:id/tail", tailHandler.Tail)
	}
}

// healthz reports liveness plus basic host stats for the desktop shell's
// diagnostics pane.
func healthz(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if hostInfo, err := hoststat.GetHostInfo(); err == nil {
		resp["hostname"] = hostInfo.HostName
		resp["os"] = hostInfo.Release + " " + hostInfo.OSBit
	}
	if memStat, err := hoststat.GetMemStat(); err == nil {
		resp["mem_free_mb"] = memStat.MemFree
	}
	c.JSON(http.StatusOK, resp)
}
