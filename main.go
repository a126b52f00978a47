package main

import (
	"context"
	"log"
	"os"

	"github.com/example/memories-chat/config"
	domain "github.com/example/memories-chat/domain/chat"
	"github.com/example/memories-chat/modules/api"
	"github.com/example/memories-chat/modules/auth"
	"github.com/example/memories-chat/modules/cache"
	"github.com/example/memories-chat/modules/chat"
	"github.com/example/memories-chat/modules/presence"
	"github.com/example/memories-chat/modules/storage"
	"github.com/example/memories-chat/modules/sweeper"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
)

func main() {
	log.Println("=== Memories Chat - Fiber + WebSocket + EventBus ===")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(cfg.ShutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	backend, err := storage.Open(context.Background(), storage.Config{
		Driver:      cfg.DBDriver,
		SQLitePath:  cfg.DBPath,
		DatabaseURL: cfg.DatabaseURL,
		Debug:       cfg.DBDebug,
	})
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}

	jwtManager := auth.NewJWTManager(auth.JWTConfig{
		SecretKey:           cfg.JWTSecret,
		PreviousSecretKey:   cfg.JWTSecretOld,
		AccessTokenDuration: cfg.JWTTTL,
		Issuer:              cfg.JWTIssuer,
	})

	if cfg.SeedDemo {
		seedDemo(backend, jwtManager)
	}

	// Room lookups go through Redis when it is configured.
	var rooms domain.RoomResolver = backend
	var cacheModule *cache.CacheModule
	if cfg.RedisAddr != "" {
		cacheModule = cache.NewModule(cfg.RedisAddr, cache.DefaultPrefix, cfg.RoomCacheTTL)
		rooms = cache.NewRoomResolver(backend, cacheModule.Cache())
	}

	// Create modules
	storageModule := storage.NewModule(backend)
	presenceModule := presence.NewModule()
	chatModule := chat.NewModule(chat.Dependencies{
		Directory:           backend,
		Rooms:               rooms,
		Messages:            backend,
		Registry:            presenceModule.Registry(),
		Verifier:            jwtManager,
		TrustClientIdentity: cfg.TrustClientIdentity,
		StoreTimeout:        cfg.StoreTimeout,
		MessageRate:         cfg.MessageRate,
		MessageBurst:        cfg.MessageBurst,
	})
	sweeperModule := sweeper.NewModule(sweeper.New(backend, cfg.StoreTimeout), cfg.SweepInterval)
	apiModule := api.NewModule(api.Config{
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		PingInterval: cfg.PingInterval,
		SendBuffer:   cfg.SendBuffer,

		RequestsPerMinute: cfg.HTTPRateLimit,
	}, jwtManager)

	// Inject gateway and registry into API module
	// (These are in-process objects, not exposed via ServiceContainer)
	apiModule.SetGateway(chatModule.Gateway())
	apiModule.SetRegistry(presenceModule.Registry())
	apiModule.SetHealthChecks(storageModule, presenceModule, chatModule, sweeperModule)

	// Register modules with the framework.
	// Order: infrastructure first, then domain, then driving adapters
	// - storage: Database backend (sqlite via gorm, or postgres via pgx)
	// - cache: Redis room cache (optional)
	// - presence: Live connection registry
	// - chat: Sessions, fan-out, presence events + history services
	// - sweeper: Ephemeral message expiry worker
	// - api: Driving adapter (Fiber HTTP/WebSocket server, depends on chat)
	app.Register(storageModule)
	if cacheModule != nil {
		apiModule.SetHealthChecks(cacheModule)
		app.Register(cacheModule)
	}
	app.Register(presenceModule)
	app.Register(chatModule)
	app.Register(sweeperModule)
	app.Register(apiModule)

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(cfg)

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

// seedDemo creates the demo couple and logs a token for each member.
func seedDemo(backend storage.Backend, jwtManager *auth.JWTManager) {
	demo, err := storage.SeedDemo(context.Background(), backend)
	if err != nil {
		log.Fatalf("Failed to seed demo data: %v", err)
	}

	log.Printf("Demo room %s seeded", demo.Room.ID)
	for _, member := range demo.Members {
		token, err := jwtManager.GenerateAccessToken(member.ID)
		if err != nil {
			log.Fatalf("Failed to issue demo token: %v", err)
		}
		log.Printf("  %s (%s): %s", member.Username, member.ID, token)
	}
}

func printStartupInfo(cfg *config.Config) {
	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Architecture:")
	log.Println("  - HTTP Framework: Fiber with WebSocket support")
	log.Printf("  - Storage: %s", cfg.DBDriver)
	if cfg.RedisAddr != "" {
		log.Printf("  - Room cache: Redis at %s", cfg.RedisAddr)
	}
	log.Printf("  - Ephemeral sweep every %s", cfg.SweepInterval)
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", cfg.Port)
	log.Println("  GET    /health                 - Health check")
	log.Println("  GET    /api/chat/room          - Caller's chat room (Bearer token)")
	log.Println("  GET    /api/chat/messages      - Message history, ?limit=&offset=")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", cfg.Port)
	log.Printf("  Connect with: ws://localhost:%s/ws?token=<jwt>", cfg.Port)
	log.Println(`  First frame:  {"type":"auth","userId":"<id>"}`)
	log.Println("  Frame types:  auth, chat_message -> new_message, partner_status, error")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
