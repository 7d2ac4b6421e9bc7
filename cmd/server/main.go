package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"atrium-backend/internal/api"
	"atrium-backend/internal/audit"
	"atrium-backend/internal/config"
	"atrium-backend/internal/metadata"
	"atrium-backend/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, driver: %s)", cfg.Server.Port, cfg.Database.Driver)

	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	reg := metadata.NewRegistry()
	if err := metadata.LoadDir(cfg.SchemaDir, reg); err != nil {
		log.Fatalf("Failed to load schemas from %s: %v", cfg.SchemaDir, err)
	}

	if err := db.Bootstrap(ctx, reg); err != nil {
		log.Fatalf("Failed to bootstrap database: %v", err)
	}
	log.Println("Database schema ready")

	var auditBuf *audit.Buffer
	if cfg.Audit.Enabled {
		auditBuf = audit.NewBuffer(db.DB, db.Dialect, cfg.Audit.BufferSize, cfg.Audit.FlushIntervalMs)
		defer auditBuf.Stop()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: api.ErrorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	handler := api.NewHandler(db, reg, cfg.Tenancy, auditBuf)
	authHandler := api.NewAuthHandler(db, cfg.JWTSecret)
	api.RegisterRoutes(app, handler, authHandler, cfg.JWTSecret)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}
