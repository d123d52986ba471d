package audit

import (
	"context"
	"fmt"

	"identity-service/internal/client"
	"identity-service/internal/models"
)

// ClickHouseSink stores audit events in a MergeTree table partitioned by
// date and event bucket, matching how the analytics side queries them.
type ClickHouseSink struct {
	client *client.ClickHouseClient
	table  string
}

// NewClickHouseSink creates the sink and makes sure the table exists.
func NewClickHouseSink(ctx context.Context, chClient *client.ClickHouseClient, table string) (*ClickHouseSink, error) {
	s := &ClickHouseSink{client: chClient, table: table}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure audit schema: %w", err)
	}
	return s, nil
}

func (s *ClickHouseSink) Name() string {
	return "clickhouse"
}

func (s *ClickHouseSink) Write(ctx context.Context, events []models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, []interface{}{
			uint16(e.EventBucket),
			e.EventTime,
			e.EventTime,
			e.EventID,
			e.EventType,
			e.ActorID,
			e.LoginIdentifier,
			e.Action,
			e.Result,
			e.Reason,
			e.IPAddress,
			e.UserAgent,
			e.Details,
		})
	}

	query := fmt.Sprintf(`INSERT INTO %s (
		event_bucket, event_date, event_time, event_id, event_type,
		actor_id, login_identifier, action, result, reason,
		ip_address, user_agent, details)`, s.table)

	return s.client.BatchInsert(ctx, query, rows)
}

func (s *ClickHouseSink) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			event_bucket     UInt16,
			event_date       Date,
			event_time       DateTime64(3, 'UTC'),
			event_id         String,
			event_type       LowCardinality(String),
			actor_id         String,
			login_identifier String,
			action           LowCardinality(String),
			result           LowCardinality(String),
			reason           String,
			ip_address       String,
			user_agent       String,
			details          String
		) ENGINE = MergeTree()
		PARTITION BY (event_date, event_bucket)
		ORDER BY (event_date, event_bucket, event_time, event_id)`, s.table)

	return s.client.Exec(ctx, ddl)
}
