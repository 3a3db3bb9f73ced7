// Package stream provides the DynamoDB Streams handler that keeps the tree
// index consistent with the store's TTL expiry sweep.
//
// Archived entity records stay physically present until DynamoDB reclaims
// them at their expiry timestamp. That reclaim happens outside any arbor code
// path, so the matching tree record would dangle; this handler watches the
// entity table stream for expiry removals and deletes the orphaned tree
// record.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/arbor/entity"
	"github.com/jacentio/arbor/store"
)

// Store is the subset of the store adapter the handler uses.
type Store interface {
	Config() store.Config
	Delete(ctx context.Context, table string, key store.Item) error
}

// Handler processes entity-table stream events.
type Handler struct {
	store  Store
	logger *slog.Logger
}

// NewHandler creates a stream handler. A nil logger falls back to
// slog.Default().
func NewHandler(s Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  s,
		logger: logger,
	}
}

// HandleExpirySweep removes tree records for entity records reclaimed by the
// store's expiry sweep. Designed to be used as an AWS Lambda handler on the
// entity table's stream.
func (h *Handler) HandleExpirySweep(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "REMOVE" {
		return nil
	}

	// Only archived records carry an expiry; anything else removed from the
	// table went through DeleteItem, which already cleaned up its tree record.
	old := record.Change.OldImage
	if getStringAttr(old, entity.FieldStatus) != string(entity.StatusArchived) {
		return nil
	}
	if getNumberAttr(old, entity.FieldTTL) == 0 {
		return nil
	}

	entityID := getStringAttr(old, store.AttrEntity)
	if entityID == "" {
		entityID = getStringAttr(record.Change.Keys, store.AttrEntity)
	}
	if entityID == "" {
		return nil
	}

	if err := h.store.Delete(ctx, h.store.Config().TreeTable, store.Item{
		store.AttrEntity: entityID,
	}); err != nil {
		return fmt.Errorf("delete tree record %s: %w", entityID, err)
	}

	h.logger.Info("swept tree record for expired entity",
		"entityId", entityID,
		"workspaceId", getStringAttr(old, store.AttrWorkspace),
	)
	return nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}
