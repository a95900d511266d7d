// Package stream provides a DynamoDB Streams handler that sweeps reservation
// documents orphaned by out-of-band entity deletes.
//
// The stores always delete an entity and its reservations in one
// transaction, so they never leave a reservation dangling. Deletes that
// bypass the stores (console, TTL expiry, bulk tooling) do. The sweeper
// watches the entity tables' streams and removes the reservations listed in
// a removed document's _reservations attribute, guarded so a value already
// re-reserved by a new entity is never touched.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/caarlos0/env/v11"

	"github.com/jacentio/lattice/identity"
)

// SweeperConfig configures the sweeper, typically from Lambda environment
// variables.
type SweeperConfig struct {
	// ReservationsTable is the table holding uniqueness reservations.
	ReservationsTable string `env:"LATTICE_RESERVATIONS_TABLE" envDefault:"lattice_reservations"`
}

// SweeperConfigFromEnv loads the sweeper configuration from the environment.
func SweeperConfigFromEnv() (SweeperConfig, error) {
	var cfg SweeperConfig
	if err := env.Parse(&cfg); err != nil {
		return SweeperConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Sweeper processes DynamoDB stream events for reservation cleanup.
type Sweeper struct {
	client identity.DynamoAPI
	config SweeperConfig
	logger *slog.Logger
}

// NewSweeper creates a sweeper. A nil logger falls back to slog.Default.
func NewSweeper(client identity.DynamoAPI, config SweeperConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		client: client,
		config: config,
		logger: logger,
	}
}

// HandleRemovals processes stream events from the role and user tables.
// This function is designed to be used as an AWS Lambda handler.
func (s *Sweeper) HandleRemovals(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := s.processRecord(ctx, record); err != nil {
			s.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord sweeps the reservations of a single removed document.
func (s *Sweeper) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "REMOVE" {
		return nil
	}

	entityID := getStringAttr(record.Change.OldImage, "id")
	reservations := getStringListAttr(record.Change.OldImage, "_reservations")
	if entityID == "" || len(reservations) == 0 {
		return nil
	}

	s.logger.Info("sweeping reservations",
		"entityID", entityID,
		"count", len(reservations),
	)

	for _, key := range reservations {
		if err := s.deleteReservation(ctx, key, entityID); err != nil {
			return fmt.Errorf("delete reservation %s: %w", key, err)
		}
	}

	return nil
}

// deleteReservation removes one reservation, but only while it still points
// at the removed entity. A reservation re-created by a new owner fails the
// condition and is left alone.
func (s *Sweeper) deleteReservation(ctx context.Context, key, entityID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.config.ReservationsTable),
		Key:                 identity.ReservationKey(key),
		ConditionExpression: aws.String("relation_id = :relation"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":relation": &types.AttributeValueMemberS{Value: entityID},
		},
	})

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		s.logger.Info("reservation re-owned, skipping",
			"key", key,
			"entityID", entityID,
		)
		return nil
	}
	return err
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok {
		return v.String()
	}
	return ""
}

// getStringListAttr extracts a string list attribute from a DynamoDB stream image.
func getStringListAttr(image map[string]events.DynamoDBAttributeValue, key string) []string {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeList {
			var result []string
			for _, item := range v.List() {
				if item.DataType() == events.DataTypeString {
					result = append(result, item.String())
				}
			}
			return result
		}
	}
	return nil
}
