package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/blob"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/config"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/database"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/handler"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/logger"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/middleware"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/notify"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/presence"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/ratecache"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/repository"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/search"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger.Setup(cfg.LogLevel, cfg.IsProduction())
	log := logger.With("main")

	// Database
	db, err := database.NewPool(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.RunMigrations(context.Background(), db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Info("Migrations applied successfully")

	// Presence tracker: Redis when configured, in-process otherwise.
	tracker, err := presence.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	// Optional search accelerator. Postgres stays canonical either way.
	var meili *search.Meili
	if cfg.MeiliURL != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
	}
	searcher := search.NewService(meili)

	// Optional attachment storage. Configured-but-unreachable is fatal;
	// not configured just disables attachments.
	var blobs service.AttachmentStore
	if cfg.MinioEndpoint != "" {
		store, err := blob.New(context.Background(), cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("Failed to connect to object storage: %v", err)
		}
		blobs = store
	}

	alerts := notify.NewWebhook(cfg.OpsWebhookURL)
	rates := ratecache.New(cfg.RatesURL, cfg.RatesTTL)

	// Repositories
	userRepo := repository.NewUserRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	ruleRepo := repository.NewRuleRepository(db)
	noteRepo := repository.NewNoteRepository(db)

	// Services
	hub := service.NewHub(alerts)
	msgSvc := service.NewMessageService(msgRepo, userRepo, groupRepo, hub, searcher, blobs)
	groupSvc := service.NewGroupService(groupRepo, userRepo, hub)
	assignSvc := service.NewAssignmentService(ruleRepo, userRepo, taskRepo, tracker)
	taskSvc := service.NewTaskService(taskRepo, assignSvc, alerts)
	ruleSvc := service.NewRuleService(ruleRepo)
	noteSvc := service.NewNoteService(noteRepo)
	userSvc := service.NewUserService(userRepo, tracker, hub)

	// Fiber app
	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
		BodyLimit:    32 * 1024 * 1024, // attachments arrive inline
	})

	app.Use(recover.New())
	app.Use(middleware.Logger())
	app.Use(middleware.CORS())

	// Health and metrics
	healthH := handler.NewHealthHandler(db)
	app.Get("/healthz", healthH.Health)
	app.Get("/readyz", healthH.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// JWT-protected API
	api := app.Group("/api", middleware.Auth(cfg.JWTSecret, tracker))

	msgH := handler.NewMessageHandler(msgSvc)
	messages := api.Group("/messages")
	messages.Post("/", middleware.RateLimit(300, time.Minute), msgH.Send)
	messages.Post("/enhanced", middleware.RateLimit(60, time.Minute), msgH.SendEnhanced)
	messages.Get("/thread/:userId", msgH.Thread)
	messages.Get("/group/:groupId", msgH.GroupThread)
	messages.Get("/search", msgH.Search)
	messages.Post("/:id/react", msgH.React)
	messages.Patch("/:id/edit", msgH.Edit)
	messages.Patch("/:id/read", msgH.MarkRead)
	messages.Delete("/:id", msgH.Delete)

	groupH := handler.NewGroupHandler(groupSvc)
	groups := api.Group("/groups")
	groups.Post("/", groupH.Create)
	groups.Get("/", groupH.ListMine)
	groups.Get("/:id/members", groupH.Members)
	groups.Patch("/:id", groupH.Update)
	groups.Post("/:id/members", groupH.AddMember)
	groups.Delete("/:id/members/:userId", groupH.RemoveMember)

	taskH := handler.NewTaskHandler(taskSvc)
	tasks := api.Group("/tasks")
	tasks.Post("/", taskH.Create)
	tasks.Get("/", taskH.List)
	tasks.Get("/:id", taskH.Get)
	tasks.Patch("/:id/status", taskH.UpdateStatus)

	ruleH := handler.NewRuleHandler(ruleSvc)
	rules := api.Group("/assignment-rules")
	rules.Post("/", ruleH.Create)
	rules.Get("/", ruleH.List)
	rules.Patch("/:id", ruleH.Update)
	rules.Delete("/:id", ruleH.Delete)

	noteH := handler.NewNoteHandler(noteSvc)
	notes := api.Group("/notes")
	notes.Post("/", noteH.Create)
	notes.Get("/", noteH.List)
	notes.Get("/:id", noteH.Get)
	notes.Patch("/:id", noteH.Update)
	notes.Delete("/:id", noteH.Delete)

	userH := handler.NewUserHandler(userSvc)
	api.Get("/users", userH.List)
	api.Get("/users/:id", userH.Get)

	ratesH := handler.NewRatesHandler(rates)
	api.Get("/rates", ratesH.Quote)

	// WebSocket
	wsH := handler.NewWSHandler(hub, msgSvc, groupRepo, tracker, cfg.JWTSecret)
	app.Get("/ws", wsH.Upgrade)

	// Start hub
	go hub.Run()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Infof("collabnotes backend running on :%s (%s)", cfg.Port, cfg.Env)

	<-quit
	log.Info("Shutting down...")
	_ = app.ShutdownWithTimeout(5 * time.Second)
	hub.Shutdown()
	searcher.Close()
	log.Info("Server stopped")
}
