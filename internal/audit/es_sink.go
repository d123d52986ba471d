package audit

import (
	"context"
	"fmt"

	"identity-service/internal/client"
	"identity-service/internal/models"
)

// ElasticsearchSink indexes audit events into daily indices so operators
// can search the trail by identifier, IP or outcome.
type ElasticsearchSink struct {
	client *client.ESClient
	index  string
}

func NewElasticsearchSink(esClient *client.ESClient, index string) *ElasticsearchSink {
	return &ElasticsearchSink{client: esClient, index: index}
}

func (s *ElasticsearchSink) Name() string {
	return "elasticsearch"
}

func (s *ElasticsearchSink) Write(ctx context.Context, events []models.AuditEvent) error {
	for _, event := range events {
		index := fmt.Sprintf("%s-%s", s.index, event.EventDate)

		res, err := s.client.IndexDocument(ctx, index, event.EventID, event)
		if err != nil {
			return fmt.Errorf("failed to index audit event: %w", err)
		}
		res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("failed to index audit event: %s", res.Status())
		}
	}
	return nil
}
