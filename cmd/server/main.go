/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the pharmacy dispensing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Load the coupon catalog (optional)
  4. Wire the dispensary for this branch
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port     HTTP server port (default: 8080)
  -db       SQLite database path (default: pharmacy.db)
            Use ":memory:" for in-memory database
  -branch   Branch ID this server dispenses for (default: main)
  -coupons  Path to coupon catalog JSON (default: none)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/pharmacy.db" -branch=clinic-east

  # Run with in-memory database and coupons
  ./server -db=":memory:" -coupons="./config/coupons.json"

  # Run on different port
  ./server -port=3000

ENVIRONMENT:
  No environment variables currently. All config via flags.
  Future: DATABASE_URL, PORT, LOG_LEVEL

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/pharmacy-engine/api"
	"github.com/warp/pharmacy-engine/dispense"
	"github.com/warp/pharmacy-engine/factory"
	"github.com/warp/pharmacy-engine/pharmacy"
	"github.com/warp/pharmacy-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "pharmacy.db", "SQLite database path")
	branch := flag.String("branch", "main", "branch ID this server dispenses for")
	couponPath := flag.String("coupons", "", "path to coupon catalog JSON")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Coupon catalog: empty unless configured
	coupons, err := factory.FromJSON(factory.CatalogJSON{})
	if err != nil {
		log.Fatalf("Failed to build empty coupon catalog: %v", err)
	}
	if *couponPath != "" {
		coupons, err = factory.LoadCatalog(*couponPath)
		if err != nil {
			log.Fatalf("Failed to load coupon catalog: %v", err)
		}
		log.Printf("Loaded %d coupons from %s", len(coupons.List()), *couponPath)
	}

	// Wire the dispensary: the store serves as lot catalog, line store, and
	// submission gateway in one.
	dispensary := pharmacy.NewDispensary(dispense.BranchID(*branch), store, store, coupons, store)

	// Create router
	handler := api.NewHandler(store, dispensary, coupons)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d (branch %s)", *port, *branch)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
