package bootstrap

import (
	"mailintel_server/adapter/in/http"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

// NewAPI assembles the ops API on an already-built dependency graph. The
// API is read-mostly; ingestion and chain rebuild are its only writes.
func NewAPI(deps *Dependencies) *fiber.App {
	cfg := deps.Config

	app := fiber.New(fiber.Config{
		DisableStartupMessage: cfg.IsProduction(),
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,

		// go-json over encoding/json for response serialization
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit: 10 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	healthHandler := http.NewHealthHandler(deps.Store, deps.Redis)
	healthHandler.Register(app)

	api := app.Group("/api/v1")

	pipelineHandler := http.NewPipelineHandler(deps.EmailRepo, deps.ChainService, deps.Executor.Stats())
	pipelineHandler.Register(api)

	chainHandler := http.NewChainHandler(deps.ChainRepo)
	chainHandler.Register(api)

	var history http.ReportHistory
	if deps.ReportArchive != nil {
		history = deps.ReportArchive
	}
	qualityHandler := http.NewQualityHandler(deps.Monitor, deps.ReportCache, history)
	qualityHandler.Register(api)

	return app
}
