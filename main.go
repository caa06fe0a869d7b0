package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fight-arena/handlers"
	"fight-arena/models"
	"fight-arena/services"
	"fight-arena/utils"
	"fight-arena/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 64 * 1024,
	})

	// Load allowed origins from environment variable
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:  allowedOriginsString,
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-Fighter-ID, X-Fighter-Key, Cache-Control",
		ExposeHeaders: "Content-Length, Content-Type, X-Request-ID",
		MaxAge:        86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}
	gatewayToken := os.Getenv("GAME_SERVICE_TOKEN")
	if gatewayToken == "" {
		log.Fatal("GAME_SERVICE_TOKEN environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Fighter{},
		&models.Match{},
		&models.TurnRecord{},
		&models.MatchEvent{},
		&models.MatchSettlement{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	settler := &services.LedgerSettler{DB: db}
	if err := utils.InitR2(); err != nil {
		log.Printf("⚠️  Replay archive disabled: %v", err)
	} else {
		settler.Archive = services.ArchiveFunc(utils.UploadReplay)
	}

	cfg := services.LoadEngineConfigFromEnv()
	matchService := services.NewMatchService(db, cfg, settler)
	fighterService := services.NewFighterService(db)
	monitor := services.NewMonitor(matchService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, err := monitor.StartMonitorScheduler(ctx, cfg.MonitorInterval)
	if err != nil {
		log.Fatal("failed to start timeout monitor:", err)
	}

	if registryURL := os.Getenv("FIGHTER_REGISTRY_URL"); registryURL != "" {
		syncWorker := workers.NewFighterSyncWorker(db, registryURL, "/api/v1/fighters", gatewayToken)
		syncWorker.Start(ctx)
	} else {
		log.Println("⚠️  FIGHTER_REGISTRY_URL not set, fighters must be registered via /admin/fighters")
	}

	dispatcher := workers.NewEventDispatcher(db, os.Getenv("EVENT_WEBHOOK_URL"), gatewayToken, utils.HTTPClient)
	go dispatcher.PollEvents(ctx, 2*time.Second)

	handlers.SetupMatchRoutes(app, matchService, fighterService)
	handlers.SetupAdminRoutes(app, gatewayToken, matchService, fighterService, monitor)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Printf("✅ Engine: commit=%s reveal=%s grace=%s forfeit after %d misses",
		cfg.CommitWindow, cfg.RevealWindow, cfg.TimeoutGrace, cfg.ForfeitThreshold)
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := sched.Shutdown(); err != nil {
		log.Printf("Scheduler shutdown error: %v", err)
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
