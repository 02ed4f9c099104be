package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/psds-microservice/certificate-request-service/internal/config"
	"github.com/psds-microservice/certificate-request-service/internal/database"
	"github.com/psds-microservice/certificate-request-service/internal/kafka"
	"github.com/psds-microservice/certificate-request-service/internal/logger"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"github.com/psds-microservice/certificate-request-service/internal/searchindex"
	"github.com/psds-microservice/certificate-request-service/internal/service"
	"github.com/psds-microservice/certificate-request-service/internal/store"
	"github.com/psds-microservice/certificate-request-service/internal/store/gormstore"
	"github.com/spf13/cobra"
)

var reindexSearchCmd = &cobra.Command{
	Use:   "reindex-search",
	Short: "Reindex all requests into search. Prefers Kafka; falls back to HTTP if SEARCH_SERVICE_URL set.",
	RunE:  runReindexSearch,
}

func init() {
	rootCmd.AddCommand(reindexSearchCmd)
}

const reindexPage = 200

func runReindexSearch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logger.New(cfg.LogLevel, cfg.AppEnv)
	conn, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	tickets := gormstore.New(conn)

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	var send func(t *model.Ticket) error
	switch {
	case len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopicTicket != "":
		log.Info("reindex-search: using Kafka")
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket, log)
		defer producer.Close()
		send = func(t *model.Ticket) error {
			producer.ProduceTicketEvent(ctx, "ticket.updated", service.EventPayload(t))
			return nil
		}
	case cfg.SearchServiceURL != "":
		log.Info("reindex-search: using HTTP")
		client := searchindex.NewClient(cfg.SearchServiceURL, log)
		send = func(t *model.Ticket) error { return client.IndexTicket(ctx, t) }
	default:
		log.Warn("reindex-search: neither KAFKA_BROKERS nor SEARCH_SERVICE_URL set, nothing to do")
		return nil
	}

	sent, failed := 0, 0
	for offset := 0; ; offset += reindexPage {
		page, total, err := tickets.List(ctx, store.Filter{Limit: reindexPage, Offset: offset})
		if err != nil {
			return fmt.Errorf("list tickets: %w", err)
		}
		for i := range page {
			if err := send(&page[i]); err != nil {
				failed++
				log.Warn("reindex-search: index failed", "ticket_id", page[i].ID, "error", err)
				continue
			}
			sent++
		}
		log.Info("reindex-search: progress", "done", sent+failed, "total", total)
		if len(page) < reindexPage {
			break
		}
	}
	log.Info("reindex-search: done", "indexed", sent, "failed", failed)
	return nil
}
