package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"library/internal/auth"
	"library/internal/bot"
	"library/internal/config"
	"library/internal/fines"
	"library/internal/ledger"
	"library/internal/library"
	"library/internal/loans"
	"library/internal/notify"
	"library/internal/storage"
	"library/internal/storage/ch"
	"library/internal/storage/memory"
)

// App represents the application
type App struct {
	config  *config.Config
	logger  *zap.Logger
	db      *memory.DB
	audit   storage.AuditLog
	subject *notify.Subject
	closers []io.Closer // observers with background resources
	service *library.Service
	bot     *bot.Bot
	server  *http.Server
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	envErr := godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogDev)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if envErr != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	app := &App{config: cfg, logger: logger}

	logger.Info("Starting Library Bot...")

	if err := app.initStorage(); err != nil {
		return nil, err
	}
	if err := app.initNotifications(); err != nil {
		return nil, err
	}
	if err := app.initBot(); err != nil {
		return nil, err
	}

	app.initHTTPServer()

	return app, nil
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// initStorage sets up the in-memory lending store and the audit log
func (a *App) initStorage() error {
	ctx := context.Background()

	a.db = memory.NewDB()
	if a.config.SeedSampleData {
		if err := memory.Seed(ctx, a.db); err != nil {
			return fmt.Errorf("failed to seed sample data: %w", err)
		}
		a.logger.Info("Sample catalog and patrons loaded")
	}

	if !a.config.AuditEnabled {
		a.logger.Info("Audit log disabled")
		return nil
	}

	var audit storage.AuditLog
	if a.config.UseMockDB {
		a.logger.Info("Using in-memory audit log")
		audit = memory.NewAuditLog()
	} else {
		a.logger.Info("Connecting to ClickHouse",
			zap.String("host", a.config.ClickHouseHost),
			zap.Int("port", a.config.ClickHousePort),
			zap.String("database", a.config.ClickHouseDatabase),
			zap.String("user", a.config.ClickHouseUser),
			zap.Bool("tls", a.config.ClickHouseUseTLS),
		)
		chLog, err := ch.NewAuditLog(
			a.config.ClickHouseHost,
			a.config.ClickHousePort,
			a.config.ClickHouseDatabase,
			a.config.ClickHouseUser,
			a.config.ClickHousePassword,
			a.config.ClickHouseUseTLS,
		)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		audit = chLog
	}

	if err := audit.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize audit log: %w", err)
	}
	a.logger.Info("Audit log initialized successfully")

	a.audit = audit
	return nil
}

// initNotifications attaches every configured observer. The Telegram chat
// observer is attached in initBot once the API client exists.
func (a *App) initNotifications() error {
	a.subject = notify.NewSubject(a.logger)
	a.subject.Attach(notify.NewLogObserver(a.logger))

	if a.config.FineLogPath != "" {
		fileObserver, err := notify.NewFileObserver(a.config.FineLogPath)
		if err != nil {
			return fmt.Errorf("failed to open fine log: %w", err)
		}
		a.subject.Attach(fileObserver)
		a.closers = append(a.closers, fileObserver)
	}

	if a.config.EmailEnabled() {
		emailObserver := notify.NewEmailObserver(a.mailer(), a.config.EmailTimeout, 0, a.logger)
		a.subject.Attach(emailObserver)
		a.closers = append(a.closers, emailObserver)
		a.logger.Info("Email notifications enabled", zap.String("smtp_host", a.config.SMTPHost))
	}

	if a.audit != nil {
		auditObserver := notify.NewAuditObserver(a.audit)
		if a.config.UseMockDB {
			a.subject.Attach(auditObserver)
		} else {
			// ClickHouse inserts go over the network
			a.attachAsync("audit", auditObserver)
		}
	}

	return nil
}

// attachAsync attaches observer behind a bounded queue and registers it for draining on shutdown
func (a *App) attachAsync(name string, observer notify.Observer) {
	async := notify.NewAsyncObserver(name, observer, a.config.NotifyTimeout, 0, a.logger)
	a.subject.Attach(async)
	a.closers = append(a.closers, async)
}

func (a *App) mailer() notify.Mailer {
	if !a.config.EmailEnabled() {
		return nil
	}
	return &notify.SMTPMailer{
		Host:     a.config.SMTPHost,
		Port:     a.config.SMTPPort,
		Username: a.config.SMTPUser,
		Password: a.config.SMTPPassword,
		From:     a.config.SMTPFrom,
	}
}

// initBot builds the lending engine and the Telegram bot in front of it
func (a *App) initBot() error {
	policy, err := ledger.ParsePaidFinePolicy(string(a.config.PaidFinePolicy))
	if err != nil {
		return err
	}

	registry := fines.NewDefaultRegistry()
	fineLedger := ledger.New(a.db, a.db, a.db, registry, a.subject, a.logger, ledger.WithPaidFinePolicy(policy))
	manager := loans.NewManager(a.db, a.db, a.db, fineLedger, a.logger)
	a.service = library.NewService(a.db, a.db, registry, fineLedger, manager, a.mailer(), a.config.EmailTimeout, a.logger)

	authService := auth.NewService(a.config.AdminUser, a.config.AdminPasswordHash, a.logger)
	if a.config.AdminPasswordHash == "" {
		a.logger.Warn("ADMIN_PASSWORD_HASH not set, admin commands are unavailable")
	}

	telegramBot, err := bot.NewBot(a.config.TelegramToken, a.service, authService, a.audit, a.config.AllowedUserIDs, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	telegramBot.SetReconcileInterval(a.config.ReconcileInterval)
	a.logger.Info("Bot created successfully", zap.Int64s("allowed_users", a.config.AllowedUserIDs))

	if a.config.NotifyChatID != 0 {
		a.attachAsync("telegram", notify.NewTelegramObserver(telegramBot.GetAPI(), a.config.NotifyChatID))
		a.logger.Info("Lending events will be posted to chat", zap.Int64("chat_id", a.config.NotifyChatID))
	}

	a.bot = telegramBot
	return nil
}

// initHTTPServer initializes the HTTP server for health checks, webhook and the reports API
func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	})

	// Root endpoint
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		mode := "polling"
		if a.config.WebhookMode {
			mode = "webhook"
		}
		fmt.Fprintf(w, "Library Bot is running (mode: %s)", mode)
	})

	// Webhook endpoint (only used in webhook mode)
	mux.HandleFunc("/telegram-webhook", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var update tgbotapi.Update
		if err := jsoniter.NewDecoder(r.Body).Decode(&update); err != nil {
			a.logger.Warn("Error decoding webhook update", zap.Error(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		// Process update in background to respond quickly to Telegram
		go a.bot.HandleWebhookUpdate(update)

		w.WriteHeader(http.StatusOK)
	})

	bot.NewHTTPServer(a.bot, a.config.WebhookMode).RegisterRoutes(mux)

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Start HTTP server in background
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("port", a.config.Port))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if a.config.WebhookMode {
		a.logger.Info("Starting bot in WEBHOOK mode", zap.String("webhook_url", a.config.WebhookURL))
		if err := a.bot.StartWebhook(a.config.WebhookURL); err != nil {
			return fmt.Errorf("failed to setup webhook: %w", err)
		}
		a.logger.Info("Webhook configured. Bot will receive updates via HTTP endpoint /telegram-webhook")
	} else {
		go func() {
			a.logger.Info("Starting bot in POLLING mode...")
			if err := a.bot.Start(); err != nil {
				a.logger.Fatal("Failed to start bot", zap.Error(err))
			}
		}()
	}

	<-sigChan

	a.logger.Info("Shutting down...")
	return a.Shutdown()
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	if a.bot != nil {
		a.bot.Stop()
	}

	// Drain observers before the audit log goes away
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("Error closing notification observer", zap.Error(err))
		}
	}

	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.Error("Error closing audit log", zap.Error(err))
			return err
		}
	}

	a.logger.Info("Shutdown complete")
	_ = a.logger.Sync()
	return nil
}
