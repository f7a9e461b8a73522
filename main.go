package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"

	"leadpilot/activity"
	"leadpilot/config"
	controller "leadpilot/controllers"
	"leadpilot/middleware"
	"leadpilot/routes"
	"leadpilot/sequence"
	"leadpilot/store"
	"leadpilot/utils"
	"leadpilot/worker"
)

func main() {
	logger := log.New(os.Stdout, "LEADPILOT: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	st := store.NewGormStore(config.DB)

	// Activity pipeline: emitter -> feed store, webhook, websocket hub
	hub := controller.NewFeedHub(log.New(os.Stdout, "FEED: ", log.LstdFlags))
	emitter := activity.NewEmitter(st, log.New(os.Stdout, "ACTIVITY: ", log.LstdFlags))
	emitter.OnEvent = hub.Broadcast
	if config.AppConfig.DiscordWebhookURL != "" {
		emitter.Notifier = activity.NewWebhookNotifier(
			config.AppConfig.DiscordWebhookURL,
			log.New(os.Stdout, "NOTIFIER: ", log.LstdFlags))
	}

	// Sequence engine
	engine := sequence.NewEngine(st, emitter, log.New(os.Stdout, "ENGINE: ", log.LstdFlags))
	gate := sequence.NewGate(st)

	var mailer utils.Mailer
	mailerLogger := log.New(os.Stdout, "MAILER: ", log.LstdFlags)
	if smtp := config.AppConfig.SMTP; smtp.Host != "" {
		mailer = utils.NewSMTPMailer(smtp.Host, smtp.Port, smtp.Username, smtp.Password,
			smtp.FromEmail, smtp.FromName, mailerLogger)
	} else {
		mailer = &utils.NoopMailer{Logger: mailerLogger}
	}

	processor := sequence.NewProcessor(st, engine, gate, mailer, emitter,
		log.New(os.Stdout, "PROCESSOR: ", log.LstdFlags))
	if config.AppConfig.Redis.Enabled {
		processor.Locker = sequence.NewRedisRunLock(redis.NewClient(&redis.Options{
			Addr:     config.AppConfig.Redis.Address,
			Password: config.AppConfig.Redis.Password,
			DB:       config.AppConfig.Redis.DB,
		}))
	}

	classifier := sequence.NewKeywordClassifier(
		sequence.DefaultSegmentRules(), config.AppConfig.DefaultSequenceType)

	// Create Fiber app
	app := fiber.New()
	app.Use(middleware.CORS())

	routes.SetupRoutes(app, routes.Deps{
		Store:      st,
		Engine:     engine,
		Processor:  processor,
		Classifier: classifier,
		Activity:   emitter,
		Hub:        hub,
	})

	// Background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if config.AppConfig.WorkersEnabled {
		sequenceWorker := worker.NewSequenceWorker(processor,
			time.Duration(config.AppConfig.RunIntervalHours)*time.Hour,
			log.New(os.Stdout, "SEQWORKER: ", log.LstdFlags))
		go sequenceWorker.Start(ctx)

		replyWorker := worker.NewReplyWorker(st, emitter,
			time.Duration(config.AppConfig.ReplyScanIntervalMins)*time.Minute,
			log.New(os.Stdout, "REPLIES: ", log.LstdFlags))
		go replyWorker.Start(ctx)
	}

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
