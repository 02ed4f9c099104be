package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/psds-microservice/certificate-request-service/internal/config"
	"github.com/psds-microservice/certificate-request-service/internal/database"
	"github.com/psds-microservice/certificate-request-service/internal/documents"
	"github.com/psds-microservice/certificate-request-service/internal/identity"
	"github.com/psds-microservice/certificate-request-service/internal/kafka"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"github.com/psds-microservice/certificate-request-service/internal/payment"
	"github.com/psds-microservice/certificate-request-service/internal/router"
	"github.com/psds-microservice/certificate-request-service/internal/searchindex"
	"github.com/psds-microservice/certificate-request-service/internal/service"
	"github.com/psds-microservice/certificate-request-service/internal/store/gormstore"
	"gorm.io/gorm"
)

// API приложение: HTTP сервер и consumer платёжных событий (режим api).
type API struct {
	cfg      *config.Config
	log      *slog.Logger
	db       *gorm.DB
	httpSrv  *http.Server
	producer *kafka.Producer
	consumer *kafka.PaymentConsumer
}

// NewAPI применяет миграции, открывает БД и собирает движок заявок.
func NewAPI(ctx context.Context, cfg *config.Config, log *slog.Logger) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(ctx, cfg.DatabaseURL(), log); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	files, err := documents.NewFileStore(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket, log)
	engine := service.New(service.Deps{
		Store:    gormstore.New(db),
		Events:   producer,
		Search:   searchindex.NewClient(cfg.SearchServiceURL, log),
		Payments: payment.NewClient(cfg.PaymentServiceURL),
		Renderer: documents.JSONRenderer{},
		Storage:  files,
		Log:      log,
		Options: service.Options{
			ManualReasonMinLength: cfg.ManualReasonMinLength,
			CommentMaxLength:      cfg.CommentMaxLength,
			BulkMaxItems:          cfg.BulkMaxItems,
		},
	})
	consumer := kafka.NewPaymentConsumer(cfg.KafkaBrokers, cfg.KafkaTopicPayment, cfg.KafkaGroupID,
		func(ctx context.Context, s model.PaymentSignal) error {
			res, err := engine.Payments.HandlePaymentSignal(ctx, s)
			if err != nil {
				return err
			}
			log.Info("payment signal applied", "payment_id", res.PaymentID, "ticket_id", res.Ticket.ID, "outcome", res.Outcome)
			return nil
		}, log)

	httpSrv := &http.Server{
		Addr: cfg.Addr(),
		Handler: router.New(router.Deps{
			Engine: engine,
			Names:  identity.NewDirectory(cfg.StaffDirectory),
			DB:     sqlDB,
			Log:    log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:      cfg,
		log:      log,
		db:       db,
		httpSrv:  httpSrv,
		producer: producer,
		consumer: consumer,
	}, nil
}

// Run запускает HTTP сервер и consumer, блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.log.Info("http server listening",
		"addr", a.httpSrv.Addr,
		"swagger", base+"/swagger",
		"api", base+"/api/v1/",
		"events", a.producer.Enabled(),
		"payment_consumer", a.consumer != nil,
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var wg sync.WaitGroup
	if a.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.consumer.Run(ctx); err != nil {
				a.log.Error("payment consumer stopped", "error", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		runErr = fmt.Errorf("http: %w", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	if err := a.consumer.Close(); err != nil {
		a.log.Warn("payment consumer close", "error", err)
	}
	wg.Wait()
	if err := a.producer.Close(); err != nil {
		a.log.Warn("kafka producer close", "error", err)
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	a.log.Info("stopped")
	return runErr
}
