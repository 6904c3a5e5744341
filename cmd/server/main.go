package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/oakline/chatsync/internal/cache"
	"github.com/oakline/chatsync/internal/handlers"
	"github.com/oakline/chatsync/internal/middleware"
	"github.com/oakline/chatsync/internal/relay"
	"github.com/oakline/chatsync/internal/repository"
	"github.com/oakline/chatsync/internal/service"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName: "ChatSync Gateway",
	})

	// Middleware
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     os.Getenv("ALLOWED_ORIGINS"),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, OPTIONS",
		AllowCredentials: true,
	}))

	// Initialize database connection
	db, err := repository.InitDB()
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Initialize Redis cache
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDB := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if parsedDB, err := strconv.Atoi(dbStr); err == nil {
			redisDB = parsedDB
		}
	}

	redisCache := cache.NewRedisCache(redisAddr, redisPassword, redisDB)
	if err := redisCache.Ping(); err != nil {
		log.Printf("WARNING: Redis connection failed: %v. Running without cache.", err)
		redisCache = nil
	} else {
		log.Println("Redis cache connected successfully")
	}

	messageCache := cache.NewMessageCache(redisCache)
	presenceCache := cache.NewPresenceCache(redisCache)

	// Initialize repositories
	messageRepo := repository.NewMessageRepository(db)
	receiptRepo := repository.NewReceiptRepository(db)
	conversationRepo := repository.NewConversationRepository(db)

	// Initialize services
	messageService := service.NewMessageService(messageRepo, conversationRepo, messageCache)
	receiptService := service.NewReceiptService(receiptRepo, messageRepo, conversationRepo)

	// Initialize handlers
	wsHandler := handlers.NewWebSocketHandler(messageService, receiptService, conversationRepo, presenceCache)
	historyHandler := handlers.NewHistoryHandler(messageService)

	// Cross-node relay (optional; single-node deployments skip it)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		nodeID := os.Getenv("NODE_ID")
		if nodeID == "" {
			nodeID = uuid.NewString()
		}
		topic := os.Getenv("KAFKA_TOPIC")
		if topic == "" {
			topic = "chatsync-events"
		}
		kafkaRelay := relay.NewKafkaRelay(strings.Split(brokers, ","), topic, nodeID)
		wsHandler.GetRegistry().SetRelay(kafkaRelay)
		go kafkaRelay.Run(context.Background(), wsHandler.GetRegistry())
		log.Printf("Kafka relay enabled (topic=%s node=%s)", topic, nodeID)
	}

	// Protected routes
	api := app.Group("/api", middleware.OriginAllowed())
	protected := api.Group("/", middleware.AuthRequired(), limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
	}))
	protected.Get("/messages", historyHandler.GetMessages)

	// WebSocket route (websocket upgrade needs special handling)
	app.Use(
		"/ws",
		middleware.OriginAllowed(),
		middleware.AuthRequired(),
		func(c *fiber.Ctx) error {
			// Upgrade to WebSocket
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		},
	)
	app.Get("/ws", websocket.New(wsHandler.HandleWebSocket))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": "ChatSync gateway is running",
		})
	})

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s...", port)
	if err := app.Listen(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
