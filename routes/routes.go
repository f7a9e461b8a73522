package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"

	controller "leadpilot/controllers"
	"leadpilot/middleware"
	"leadpilot/sequence"
	"leadpilot/store"
)

// Deps bundles the wired collaborators the HTTP layer needs.
type Deps struct {
	Store      store.Store
	Engine     *sequence.Engine
	Processor  *sequence.Processor
	Classifier sequence.Classifier
	Activity   sequence.ActivitySink
	Hub        *controller.FeedHub
}

func SetupRoutes(app *fiber.App, deps Deps) {
	sequenceController := controller.NewSequenceController(
		deps.Store, deps.Engine, deps.Processor, deps.Classifier,
		log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags))
	activityController := controller.NewActivityController(
		deps.Store, log.New(os.Stdout, "ACTIVITY: ", log.LstdFlags))
	leadController := controller.NewLeadController(
		deps.Store, deps.Activity, log.New(os.Stdout, "LEAD: ", log.LstdFlags))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Sequence routes
	seq := api.Group("/sequences")
	seq.Get("/run", sequenceController.RunSequences) // scheduler trigger
	seq.Post("/enroll", sequenceController.EnrollLead)
	seq.Post("/auto-enroll", sequenceController.AutoEnrollLead)
	seq.Post("/unenroll", sequenceController.UnenrollLead)
	seq.Post("/", sequenceController.CreateSequence)
	seq.Get("/", sequenceController.GetSequences)
	seq.Get("/:id", sequenceController.GetSequence)

	// Lead routes (the slice the engine touches)
	lead := api.Group("/leads")
	lead.Post("/", leadController.CreateLead)
	lead.Get("/:id", leadController.GetLead)
	lead.Put("/:id/status", leadController.UpdateLeadStatus)

	// Activity feed
	api.Get("/activity", activityController.GetActivityFeed)
	app.Get("/api/v1/activity/ws", websocket.New(deps.Hub.HandleFeedWS))

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})

	log.Println("API routes initialized successfully")
}
