package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/campuspay/payment-service/internal/audit"
	"github.com/campuspay/payment-service/internal/config"
	"github.com/campuspay/payment-service/internal/handler"
	"github.com/campuspay/payment-service/internal/integrations/registry"
	"github.com/campuspay/payment-service/internal/repository"
	"github.com/campuspay/payment-service/internal/service"
	"github.com/campuspay/payment-service/internal/utils/email"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	// Initialize layers
	repo := repository.NewRepository(db)

	var registryClient service.RegistryClient
	if cfg.RegistryURL != "" {
		registryClient = registry.NewClient(cfg, logger)
	}
	var notifier service.Notifier
	if cfg.SMTPHost != "" {
		notifier = email.NewSender(cfg, logger)
	}

	svc := service.NewService(repo, logger, registryClient, notifier)
	h := handler.NewHandler(svc, logger)

	// Scheduled ledger consistency audit
	auditor := audit.NewAuditor(repo, logger)
	c := cron.New()
	if _, err := c.AddFunc(cfg.AuditSchedule, func() {
		if _, err := auditor.Run(context.Background()); err != nil {
			logger.Errorf("Ledger audit failed: %v", err)
		}
	}); err != nil {
		logger.Fatalf("Failed to schedule ledger audit: %v", err)
	}
	c.Start()
	defer c.Stop()

	// Setup router
	r := mux.NewRouter()
	r.HandleFunc("/v1/accounts", h.CreateAccount).Methods("POST")
	r.HandleFunc("/v1/transactions/withdraw", h.Withdraw).Methods("POST")
	r.HandleFunc("/v1/transactions/deposit", h.Deposit).Methods("POST")
	r.HandleFunc("/v1/transfers", h.Transfer).Methods("POST")
	r.HandleFunc("/v1/students/{link_id}", h.ResolveStudent).Methods("GET")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods("GET")

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
