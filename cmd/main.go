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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/payrelay/payrelay/handler"
	"github.com/payrelay/payrelay/infra/config"
	"github.com/payrelay/payrelay/infra/conn"
	"github.com/payrelay/payrelay/infra/logger"
	"github.com/payrelay/payrelay/infra/opensearch"
	"github.com/payrelay/payrelay/infra/postgres"
	"github.com/payrelay/payrelay/infra/response"
	"github.com/payrelay/payrelay/reconcile"

	_ "github.com/payrelay/payrelay/provider/clopay"
	_ "github.com/payrelay/payrelay/provider/cryptowave"
	_ "github.com/payrelay/payrelay/provider/fiatum"
	_ "github.com/payrelay/payrelay/provider/payeera"
	_ "github.com/payrelay/payrelay/provider/stripegate"
)

var (
	PORT             string
	openSearchLogger *opensearch.Logger
)

func init() {
	// Load Env
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg := config.GetAppConfig()
	PORT = cfg.Port

	// Initialize OpenSearch client and logger
	if cfg.EnableLogging {
		osClient, err := opensearch.NewClient(cfg)
		if err != nil {
			log.Printf("Failed to initialize OpenSearch client: %v", err)
			log.Println("Continuing without OpenSearch logging...")
		} else {
			openSearchLogger = opensearch.NewLogger(osClient)
			log.Println("OpenSearch logging initialized successfully")
		}
	} else {
		log.Println("OpenSearch logging is disabled")
	}

	logger.InitGlobalLogger(openSearchLogger)
}

// settingsSource bridges the merchant settings storage into the shape the
// side-effect dispatcher consumes. A merchant with no saved settings gets an
// empty settings record, not an error.
type settingsSource struct {
	storage config.SettingsStorage
}

func (s *settingsSource) MerchantSettings(ctx context.Context, merchantID string) (*reconcile.MerchantSettings, error) {
	settings, err := s.storage.GetMerchantSettings(merchantID)
	if err != nil {
		if errors.Is(err, config.ErrSettingsNotFound) {
			return &reconcile.MerchantSettings{}, nil
		}
		return nil, err
	}
	return &reconcile.MerchantSettings{
		WebhookURL:    settings.WebhookURL,
		Events:        settings.Events,
		Notifications: settings.Notifications,
	}, nil
}

func main() {
	cfg := config.GetAppConfig()

	// Database
	db := &conn.DB{}
	db.ConnectDatabase()
	defer db.CloseDatabase()

	pgStore, err := postgres.NewPaymentStore(db)
	if err != nil {
		log.Fatalf("Failed to initialize payment store: %v", err)
	}

	// Audit entries go to the database always; with OpenSearch enabled they
	// are also indexed for search and anomaly queries.
	var store reconcile.Store = pgStore
	if openSearchLogger != nil {
		store = reconcile.NewAuditedStore(pgStore, reconcile.NewSearchAuditSink(openSearchLogger))
	}

	// Merchant settings storage (SQLite or Postgres, driver from env)
	settingsStorage, err := config.NewSettingsStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize settings storage: %v", err)
	}
	defer settingsStorage.Close()

	// Reconciliation engine
	dispatcher := reconcile.NewDispatcher(store, &settingsSource{storage: settingsStorage},
		reconcile.LogNotifier{}, time.Duration(cfg.WebhookTimeout)*time.Second)
	applier := reconcile.NewApplier(store, dispatcher)
	resolver := reconcile.NewResolver(store)

	paymentService := reconcile.NewPaymentService(store, resolver, applier)

	// Register gateways from environment credentials
	gatewayConfig := config.NewGatewayConfig()
	gatewayConfig.LoadFromEnv()
	for _, gatewayName := range gatewayConfig.GetAvailableGateways() {
		gatewayCfg, err := gatewayConfig.GetConfig(gatewayName)
		if err != nil {
			log.Printf("Failed to get configuration for gateway %s: %v", gatewayName, err)
			continue
		}
		if err := paymentService.AddGateway(gatewayName, gatewayCfg); err != nil {
			log.Printf("Failed to register gateway %s: %v", gatewayName, err)
			continue
		}
		log.Printf("Registered gateway: %s", gatewayName)
	}

	// Polling scheduler over the gateways that cannot push webhooks
	watcher := reconcile.NewStatusWatcher(store, applier, paymentService.Gateways(), reconcile.DefaultSchedulerConfig())
	applier.AttachWatcher(watcher)
	paymentService.AttachWatcher(watcher)
	watcher.Start()
	defer watcher.Stop()

	// Handlers
	validate := validator.New()
	paymentHandler := handler.NewPaymentHandler(paymentService, validate)
	webhookHandler := handler.NewWebhookHandler(paymentService)
	settingsHandler := handler.NewSettingsHandler(settingsStorage, validate)
	linkHandler := handler.NewLinkHandler(pgStore, validate)
	logsHandler := handler.NewLogsHandler(pgStore)
	healthHandler := handler.NewHealthHandler(db.DB, paymentService)

	// Chi Define Routes
	r := chi.NewRouter()

	// Basic Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Signature", "Origin", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "Content-Length", "Access-Control-Allow-Origin"},
		AllowCredentials: true,
		MaxAge:           300, // Preflight cache time (second)
	}))

	// Health check endpoints (no auth required)
	r.Get("/health", healthHandler.CheckHealth)
	r.Get("/health/live", healthHandler.Liveness)

	// Webhook routes for gateway notifications
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/{gateway}", webhookHandler.HandleWebhook)
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/payments", paymentHandler.CreatePayment)
		r.Get("/payments/{paymentID}", paymentHandler.GetPayment)
		r.Get("/payments/{paymentID}/logs", logsHandler.GetPaymentLogs)

		r.Post("/links", linkHandler.CreateLink)
		r.Get("/links/{linkID}", linkHandler.GetLink)

		r.Route("/merchants/{merchantID}/settings", func(r chi.Router) {
			r.Put("/", settingsHandler.SaveSettings)
			r.Get("/", settingsHandler.GetSettings)
		})
	})

	// Not Found
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = response.WriteJSON(w, http.StatusNotFound, response.Response{Success: false, Message: "Not Found"})
	})

	// Create a context that listens for interrupt and terminate signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", PORT),
		Handler:           r,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 60 * time.Second,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatal(err.Error())
		}
	}()

	log.Println("API is running on", PORT)

	// Block until a signal is received
	<-ctx.Done()

	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
