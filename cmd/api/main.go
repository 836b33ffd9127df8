// cmd/api/main.go
// Main entry point for the application
// This file bootstraps all components and starts the server

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/peerfund/peerfund-backend/internal/auth"
	"github.com/peerfund/peerfund-backend/internal/common/cache"
	"github.com/peerfund/peerfund-backend/internal/common/database"
	"github.com/peerfund/peerfund-backend/internal/common/logger"
	"github.com/peerfund/peerfund-backend/internal/common/utils"
	"github.com/peerfund/peerfund-backend/internal/config"
	"github.com/peerfund/peerfund-backend/internal/matching"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	log.Println("========================================")
	log.Println("🚀 Starting PeerFund Matching API")
	log.Println("========================================")

	// 1. Load environment variables
	log.Println("📁 Step 1: Loading .env file...")
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  Warning: No .env file found (%v), using environment variables", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// 2. Load and validate configuration
	log.Println("\n📋 Step 2: Loading configuration...")
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("❌ Configuration validation failed:", err)
	}
	log.Println("✅ Configuration is valid")

	// 3. Structured logger
	zapLogger, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatal("❌ Failed to build logger:", err)
	}
	defer zapLogger.Sync()

	// 4. Connect to PostgreSQL
	log.Println("\n🗄️  Step 3: Connecting to PostgreSQL...")
	db, err := database.NewPostgresDBFromURL(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("❌ Failed to connect to PostgreSQL:", err)
	}
	defer db.Close()
	log.Println("✅ Connected to PostgreSQL successfully")

	// 5. Connect to Redis (optional)
	log.Println("\n📮 Step 4: Connecting to Redis...")
	matchCache := cache.NewNoopCache()
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedisClientFromURL(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Redis unavailable (%v), match results will not be cached", err)
		} else {
			defer redisClient.Close()
			matchCache = cache.NewRedisCache(redisClient)
			log.Println("✅ Connected to Redis successfully")
		}
	} else {
		log.Println("⚠️  Redis URL not configured, match results will not be cached")
	}

	// 6. Initialize auth middleware
	log.Println("\n🔐 Step 5: Initializing authentication...")
	authService := auth.NewService(&auth.Config{
		JWTSecret:         cfg.JWTSecret,
		AccessTokenExpiry: cfg.AccessTokenExpiry,
	})
	authMiddleware := auth.NewMiddleware(authService)
	log.Println("✅ Authentication initialized")

	// 7. Initialize the matching engine
	log.Println("\n🤝 Step 6: Initializing matching engine...")
	scorer, err := matching.NewScoringEngine(matching.DefaultWeights())
	if err != nil {
		// Invalid weights are fatal at construction, never per call
		log.Fatal("❌ Invalid scoring configuration:", err)
	}

	matchingRepo := matching.NewPostgresRepository(db, cfg.Matching.RateSlackHigh, cfg.Matching.RateSlackLow)
	matchingService := matching.NewService(matchingRepo, matchCache, scorer, zapLogger, cfg.Matching)
	matchingHandler := matching.NewHandler(matchingService)
	log.Println("✅ Matching engine initialized")

	// 8. Start the precompute scheduler
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	defer cancelScheduler()

	scheduler := matching.NewScheduler(matchingService, zapLogger, cfg.Matching.PrecomputeInterval)
	scheduler.Start(schedulerCtx)
	log.Println("✅ Precompute scheduler started")

	// 9. Register routes
	log.Println("\n🛣️  Step 7: Registering routes...")
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/health", healthHandler).Methods("GET")
	matching.RegisterRoutes(router, matchingHandler, authMiddleware)
	log.Println("✅ Routes registered")

	// 10. Start the server with graceful shutdown
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("\n🌐 Server listening on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("❌ Server failed:", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down server...")
	cancelScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	log.Println("👋 Server stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
