// Package stream feeds DynamoDB Streams batches through a docload Loader.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/docload/dynamo"
	"github.com/jacentio/docload/loader"
)

// Backend is the store the handler's loaders read through. *dynamo.Backend
// satisfies it.
type Backend interface {
	loader.Backend
	KindFor(table string) (string, bool)
	Now() time.Time
}

// Change is one decoded stream record.
type Change struct {
	EventID   string
	EventName string
	Table     string
	Key       *loader.Key
	// Doc is the new document. It is nil for removals, expired items and
	// streams that do not carry new images.
	Doc loader.Document
	// Old is the previous document when the stream carries old images.
	Old loader.Document
}

// RecordFunc handles one change. The context carries the batch's Loader,
// so loader.FromContext and loader.Transactional work inside it.
type RecordFunc func(ctx context.Context, change Change) error

// Handler processes DynamoDB stream events. Every batch gets a fresh
// Loader whose cache is primed from the records' new images.
type Handler struct {
	backend Backend
	config  loader.Config
	fn      RecordFunc
	logger  *slog.Logger
}

// NewHandler creates a new stream handler. fn may be nil, in which case
// records only update the batch cache.
func NewHandler(backend Backend, config loader.Config, fn RecordFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Logger == nil {
		config.Logger = logger
	}
	return &Handler{
		backend: backend,
		config:  config,
		fn:      fn,
		logger:  logger.With("component", "docload.stream"),
	}
}

// Handle processes a batch in order and stops at the first failure, so
// Lambda retries the whole batch.
func (h *Handler) Handle(ctx context.Context, event events.DynamoDBEvent) error {
	ctx, l := h.begin(ctx)
	for _, record := range event.Records {
		if err := h.processRecord(ctx, l, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err
		}
	}
	h.logger.Debug("stream batch processed", "records", len(event.Records))
	return nil
}

// HandleWithFailures processes a batch in order and reports the first
// failing record as a batch item failure. Lambda then retries from that
// record when ReportBatchItemFailures is enabled on the event source.
func (h *Handler) HandleWithFailures(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	ctx, l := h.begin(ctx)
	for _, record := range event.Records {
		if err := h.processRecord(ctx, l, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"sequenceNumber", record.Change.SequenceNumber,
				"error", err,
			)
			return events.DynamoDBEventResponse{
				BatchItemFailures: []events.DynamoDBBatchItemFailure{{ItemIdentifier: record.Change.SequenceNumber}},
			}, nil
		}
	}
	return events.DynamoDBEventResponse{}, nil
}

func (h *Handler) begin(ctx context.Context) (context.Context, *loader.Loader) {
	l := loader.New(h.backend, h.config)
	return loader.WithLoader(ctx, l), l
}

// processRecord decodes a record, applies it to the batch cache and hands
// it to the callback.
func (h *Handler) processRecord(ctx context.Context, l *loader.Loader, record events.DynamoDBEventRecord) error {
	change, err := h.decode(record)
	if err != nil {
		return err
	}
	if change == nil {
		return nil
	}

	h.logger.Debug("processing change",
		"eventID", change.EventID,
		"event", change.EventName,
		"key", change.Key.String(),
	)

	if change.Doc != nil {
		l.Cache().Prime(change.Key, change.Doc)
	} else {
		l.Cache().Clear(change.Key)
	}

	if h.fn == nil {
		return nil
	}
	if err := h.fn(ctx, *change); err != nil {
		return fmt.Errorf("handle %s %s: %w", change.EventName, change.Key, err)
	}
	return nil
}

// decode converts a record to a Change. It returns nil for records that
// belong to a different kind than their table stores.
func (h *Handler) decode(record events.DynamoDBEventRecord) (*Change, error) {
	sk, ok := record.Change.Keys["sk"]
	if !ok || sk.DataType() != events.DataTypeString {
		return nil, fmt.Errorf("record %s: missing sort key", record.EventID)
	}
	key, err := loader.ParseKey(sk.String())
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", record.EventID, err)
	}

	table := tableFromARN(record.EventSourceArn)
	if kind, ok := h.backend.KindFor(table); ok && kind != key.Kind() {
		h.logger.Warn("skipping record for foreign kind",
			"eventID", record.EventID,
			"table", table,
			"key", key.String(),
		)
		return nil, nil
	}

	change := &Change{
		EventID:   record.EventID,
		EventName: record.EventName,
		Table:     table,
		Key:       key,
	}
	if record.EventName != "REMOVE" && len(record.Change.NewImage) > 0 {
		if change.Doc, err = h.document(record.Change.NewImage); err != nil {
			return nil, fmt.Errorf("record %s new image: %w", record.EventID, err)
		}
	}
	if len(record.Change.OldImage) > 0 {
		if change.Old, err = h.document(record.Change.OldImage); err != nil {
			return nil, fmt.Errorf("record %s old image: %w", record.EventID, err)
		}
	}
	return change, nil
}

// document decodes an image. Expired images decode to nil.
func (h *Handler) document(image map[string]events.DynamoDBAttributeValue) (loader.Document, error) {
	item := ConvertImage(image)
	if dynamo.IsExpired(item, h.backend.Now()) {
		return nil, nil
	}
	_, doc, err := dynamo.DecodeItem(item)
	return doc, err
}

// tableFromARN extracts the table name from a stream ARN of the form
// arn:aws:dynamodb:region:account:table/NAME/stream/LABEL.
func tableFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	table, _, _ := strings.Cut(rest, "/")
	return table
}
