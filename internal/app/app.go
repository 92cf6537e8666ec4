package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"task-mail-intake-go/internal/classify"
	"task-mail-intake-go/internal/config"
	"task-mail-intake-go/internal/db"
	"task-mail-intake-go/internal/handler"
	"task-mail-intake-go/internal/idempotency"
	"task-mail-intake-go/internal/intake"
	"task-mail-intake-go/internal/lease"
	"task-mail-intake-go/internal/metrics"
	"task-mail-intake-go/internal/pipeline"
	"task-mail-intake-go/internal/reply"
	"task-mail-intake-go/internal/scanner"
	"task-mail-intake-go/internal/scheduler"
	"task-mail-intake-go/internal/server"
	"task-mail-intake-go/internal/throttle"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Task Mail Intake Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := metrics.NewMetrics()

	var scn scanner.Scanner
	var mut scanner.Mutator
	if cfg.Mailbox.UseIMAP {
		imapScanner, err := scanner.NewIMAPScanner(&cfg.Mailbox)
		if err != nil {
			return fmt.Errorf("failed to create IMAP scanner: %w", err)
		}
		scn, mut = imapScanner, imapScanner
		logrus.Info("Using IMAP for mailbox scanning")
	} else {
		gmailScanner, err := scanner.NewGmailScanner(&cfg.Mailbox)
		if err != nil {
			return fmt.Errorf("failed to create Gmail scanner: %w", err)
		}
		scn, mut = gmailScanner, gmailScanner
		logrus.Info("Using Gmail API for mailbox scanning")
	}

	var store idempotency.Store
	var pruner intake.Pruner
	switch cfg.Intake.StoreBackend {
	case "redis":
		// TTL on the keys is the retention policy here.
		store = idempotency.NewRedisStore(rdb)
		logrus.Info("Using Redis idempotency store")
	default:
		gormStore := idempotency.NewGormStore(dbConn)
		store, pruner = gormStore, gormStore
		logrus.Info("Using database idempotency store")
	}

	leases := lease.NewRedisManager(rdb)

	var p pipeline.Pipeline
	switch cfg.Pipeline.Handoff {
	case "agent":
		p = pipeline.NewAgentClient(cfg.Pipeline.AgentURL, cfg.Pipeline.Timeout, cfg.Pipeline.MaxAttempts)
	case "taskproc":
		p = pipeline.NewTaskProcClient(cfg.Pipeline.TaskProcessorURL, cfg.Pipeline.Timeout)
	case "queue":
		publisher := pipeline.NewQueuePublisher(rdb, cfg.Pipeline.QueueName)
		if err := publisher.Ping(context.Background()); err != nil {
			return fmt.Errorf("queue connectivity check failed: %w", err)
		}
		p = publisher
	default:
		return fmt.Errorf("unknown pipeline handoff: %s", cfg.Pipeline.Handoff)
	}

	replies, err := buildReplySender(cfg, dbConn)
	if err != nil {
		return err
	}

	coordinator, err := intake.NewCoordinator(intake.Options{
		Scanner:     scn,
		Mutator:     mut,
		Store:       store,
		Leases:      leases,
		Classifier:  classify.NewClassifier(classify.DefaultPredicates()...),
		Pipeline:    p,
		Replies:     replies,
		Logs:        intake.NewGormLogRecorder(dbConn),
		Metrics:     m,
		Pruner:      pruner,
		LeaseTTL:    cfg.Intake.LeaseTTL,
		MaxAttempts: cfg.Intake.MaxAttempts,
		Lookback:    cfg.Intake.Lookback,
		Retention:   cfg.Intake.RetentionCount,
	})
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	logrus.Infof("Coordinator lease holder id: %s", coordinator.HolderID())

	sched := scheduler.NewScheduler(&cfg.Intake, coordinator)

	h := handler.NewHandlers(dbConn, rdb, sched)
	router := server.SetupRouter(h)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if err := scn.Close(); err != nil {
		logrus.Errorf("Failed to close scanner: %v", err)
	}
	if replies != nil {
		if err := replies.Close(); err != nil {
			logrus.Errorf("Failed to close reply sender: %v", err)
		}
	}
	if err := rdb.Close(); err != nil {
		logrus.Errorf("Failed to close redis client: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return nil
}

// buildReplySender assembles the throttled reply sender, or returns nil when
// replies are disabled.
func buildReplySender(cfg *config.Config, dbConn *gorm.DB) (reply.Sender, error) {
	var inner reply.Sender
	switch cfg.Reply.Transport {
	case "gmail":
		s, err := reply.NewGmailSender(&cfg.Mailbox)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gmail reply sender: %w", err)
		}
		inner = s
	case "smtp":
		inner = reply.NewSMTPSender(&cfg.Reply, &cfg.Mailbox)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown reply transport: %s", cfg.Reply.Transport)
	}

	t := throttle.NewGorm(dbConn, cfg.Throttle.MinInterval)
	return reply.NewThrottledSender(inner, t, cfg.Throttle.MaxWait), nil
}
