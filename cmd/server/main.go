package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"widgetflow-backend/internal/admin"
	"widgetflow-backend/internal/auth"
	"widgetflow-backend/internal/config"
	"widgetflow-backend/internal/engine"
	"widgetflow-backend/internal/instrument"
	"widgetflow-backend/internal/metadata"
	"widgetflow-backend/internal/notify"
	"widgetflow-backend/internal/storage"
	"widgetflow-backend/internal/store"
)

const (
	uploadsPrefix = "/uploads"
	seedEmail     = "admin@localhost"
	seedPassword  = "changeme"
)

var migrateDown bool

var rootCmd = &cobra.Command{
	Use:   "widgetflow",
	Short: "Widget screen flow-graph server",
	Long: `Serves the widget flow-graph API: screen wizard, value connections,
the connect dialog and change notifications.

Running without a subcommand is the same as "serve".`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Migrate the database and start the HTTP and notify listeners",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply (or with --down, roll back) the schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if migrateDown {
			if err := store.MigrateDown(cfg.Database); err != nil {
				return err
			}
			log.Println("Migrations rolled back")
			return nil
		}
		if err := store.Migrate(cfg.Database); err != nil {
			return err
		}
		log.Println("Migrations applied")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "Roll back every migration")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
}

func serve(ctx context.Context) error {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Printf("Config loaded (port: %d, notify port: %d, db: %s)", cfg.Server.Port, cfg.Server.NotifyPort, cfg.Database.Driver)

	// 2. Migrate and connect to database
	if err := store.Migrate(cfg.Database); err != nil {
		return err
	}
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	log.Println("Database connected")

	if err := db.SeedAdmin(ctx, seedEmail, seedPassword); err != nil {
		log.Printf("WARN: Failed to seed admin user: %v", err)
	}

	// 3. Registry and change notifications
	reg := metadata.NewRegistry()
	hub := notify.New(256)
	hub.Subscribe("registry", notify.InvalidateRegistry(reg))
	hub.Start(ctx)
	defer hub.Stop()

	// 4. Instrumentation
	var inst instrument.Instrumenter = &instrument.NoopInstrumenter{}
	if cfg.Instrumentation.Enabled {
		buf := instrument.NewEventBuffer(db.DB, db.Dialect, cfg.Instrumentation.BufferSize, cfg.Instrumentation.FlushIntervalMs)
		defer buf.Stop()
		inst = instrument.NewRecorder(buf)

		cleanup, err := instrument.StartCleanup(db.DB, db.Dialect, cfg.Instrumentation.CleanupSchedule, cfg.Instrumentation.RetentionDays)
		if err != nil {
			log.Printf("WARN: %v", err)
		} else {
			defer cleanup.Stop()
		}
	}

	// 5. Flow-graph engine
	matcher := &engine.Matcher{
		OnViolation: func(q engine.MatchQuery, edges []metadata.Connection) {
			ids := make([]string, len(edges))
			for i, e := range edges {
				ids[i] = e.ID
			}
			inst.EmitBusinessEvent(ctx, "duplicate_connection", "connect_screens", q.SourceScreenID, map[string]any{
				"connection_ids": ids,
				"context":        q.ConnectionContext,
			})
		},
	}
	manager := engine.NewConnectionManager(db, db, hub, matcher)
	if cfg.Engine.MaxCombinationOptions > 0 {
		manager.MaxCombinationOptions = cfg.Engine.MaxCombinationOptions
	}
	sessions := engine.NewDialogSessions(manager, db)
	gates := engine.MustGateSet()

	// 6. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: engine.ErrorHandler,
		Immutable:    true,
		BodyLimit:    int(cfg.Storage.MaxFileSize) + 1<<20,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 7. Health check and uploaded images
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Static(uploadsPrefix, cfg.Storage.LocalPath)

	// 8. Auth routes (registered before the protected group)
	auth.RegisterAuthRoutes(app, auth.NewAuthHandler(db, cfg.JWTSecret))

	// 9. Protected API: auth first so spans carry the user id
	api := app.Group("/api", auth.AuthMiddleware(cfg.JWTSecret), instrument.Middleware(inst))

	// 10. Flow-graph, admin, image and event routes
	engine.RegisterRoutes(api, engine.NewHandler(db, reg, manager, sessions, gates, hub))
	admin.RegisterAdminRoutes(api, admin.NewHandler(db, reg, sessions, hub), auth.RequireAdmin())
	files := storage.NewLocalStorage(cfg.Storage.LocalPath, uploadsPrefix)
	images := storage.NewImageHandler(db, files, hub, cfg.Storage.MaxFileSize)
	images.OnScreenSaved = reg.Merge
	storage.RegisterImageRoutes(api, images)
	api.Get("/events", instrument.NewEventHandler(db.DB, db.Dialect).List)

	// 11. Notify listener
	notifySrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.NotifyPort),
		Handler:           notify.NewRouter(hub, cfg.Server.NotifyOrigins, auth.HTTPMiddleware(cfg.JWTSecret)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("Notify listener on %s", notifySrv.Addr)
		if err := notifySrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ERROR: notify listener: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := notifySrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("WARN: notify shutdown: %v", err)
		}
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Printf("WARN: server shutdown: %v", err)
		}
	}()

	// 12. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	return app.Listen(addr)
}
