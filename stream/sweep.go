// Package stream runs delete rules for documents DynamoDB removed on its own.
//
// Documents marked with dynamostore's Expire are deleted by DynamoDB's TTL
// process, outside any Service. The table stream still reports the removal;
// the [Handler] turns those REMOVE records into Service.Sweep calls so the
// expired documents' pre rules (cascades, nullifies) run after the fact.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/lattice/internal/shard"
	"github.com/jacentio/lattice/store"
)

// ttlPrincipal is the identity DynamoDB stamps on records of TTL deletions.
const ttlPrincipal = "dynamodb.amazonaws.com"

// Tables maps table names back to collections. *dynamostore.Store implements it.
type Tables interface {
	CollectionOf(table string) (string, bool)
}

// Config holds configuration for a Handler.
type Config struct {
	// Workers is the number of concurrent sweeps per collection. Ids are
	// partitioned by hash, so a document is always swept by the same worker.
	// Default: 1
	Workers int

	// ExpiredOnly restricts sweeping to TTL deletions. Explicit deletes went
	// through a Service and already ran their rules.
	// Default: true
	ExpiredOnly bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:     1,
		ExpiredOnly: true,
	}
}

// Handler processes DynamoDB stream events for expired documents.
type Handler struct {
	tables  Tables
	catalog *store.Catalog
	config  Config
	logger  *slog.Logger
}

// NewHandler creates a new stream handler. Collections resolve to services
// through catalog.
func NewHandler(tables Tables, catalog *store.Catalog, config Config, logger *slog.Logger) *Handler {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		tables:  tables,
		catalog: catalog,
		config:  config,
		logger:  logger.With("component", "lattice-stream"),
	}
}

// target is one removed document.
type target struct {
	collection string
	id         store.ID
	sequence   string
}

// HandleRemoved sweeps the documents removed in event. It is designed to be
// used as an AWS Lambda handler with partial batch responses enabled: records
// whose sweep failed are reported back for retry, eventually to the DLQ.
func (h *Handler) HandleRemoved(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var resp events.DynamoDBEventResponse

	byCollection := make(map[string][]target)
	var order []string
	for _, record := range event.Records {
		t, ok, err := h.processRecord(&record)
		if err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures, failure(record.Change.SequenceNumber))
			continue
		}
		if !ok {
			continue
		}
		if _, seen := byCollection[t.collection]; !seen {
			order = append(order, t.collection)
		}
		byCollection[t.collection] = append(byCollection[t.collection], t)
	}

	for _, collection := range order {
		failed := h.sweepCollection(ctx, collection, byCollection[collection])
		for _, seq := range failed {
			resp.BatchItemFailures = append(resp.BatchItemFailures, failure(seq))
		}
	}
	return resp, nil
}

// processRecord extracts the removed document of a record. The boolean is
// false for records that need no sweep.
func (h *Handler) processRecord(record *events.DynamoDBEventRecord) (target, bool, error) {
	// Only process REMOVE events
	if record.EventName != string(events.DynamoDBOperationTypeRemove) {
		return target{}, false, nil
	}
	if h.config.ExpiredOnly && !isExpiry(record) {
		return target{}, false, nil
	}

	table, err := tableFromARN(record.EventSourceArn)
	if err != nil {
		return target{}, false, err
	}
	collection, ok := h.tables.CollectionOf(table)
	if !ok {
		return target{}, false, nil
	}

	hex := getStringAttr(record.Change.Keys, "id")
	if hex == "" {
		hex = getStringAttr(record.Change.OldImage, "id")
	}
	id, err := store.ParseID(hex)
	if err != nil {
		return target{}, false, err
	}

	h.logger.Debug("document removed",
		"collection", collection,
		"id", hex,
		"ttl", getNumberAttr(record.Change.OldImage, "ttl"),
	)
	return target{collection: collection, id: id, sequence: record.Change.SequenceNumber}, true, nil
}

// sweepCollection runs the sweeps of one collection across the configured
// workers and returns the sequence numbers of the records that failed.
func (h *Handler) sweepCollection(ctx context.Context, collection string, targets []target) []string {
	svc, err := h.catalog.Service(collection)
	if err != nil {
		h.logger.Error("no service for collection", "collection", collection, "error", err)
		return sequences(targets)
	}

	keys := make([]string, 0, len(targets))
	byKey := make(map[string][]target, len(targets))
	for _, t := range targets {
		key := t.id.Hex()
		if _, seen := byKey[key]; !seen {
			keys = append(keys, key)
		}
		byKey[key] = append(byKey[key], t)
	}
	partitions := shard.Split(keys, h.config.Workers)

	failed := make([][]string, h.config.Workers)
	var g errgroup.Group
	for p, part := range partitions {
		g.Go(func() error {
			ids := make([]store.ID, 0, len(part))
			var batch []target
			for _, key := range part {
				for _, t := range byKey[key] {
					ids = append(ids, t.id)
					batch = append(batch, t)
				}
			}

			if err := svc.Sweep(ctx, ids, nil); err != nil {
				h.logger.Error("sweep failed",
					"collection", collection,
					"partition", shard.Label(p),
					"documents", len(ids),
					"error", err,
				)
				failed[p] = sequences(batch)
				return nil
			}
			h.logger.Info("documents swept",
				"collection", collection,
				"partition", shard.Label(p),
				"documents", len(ids),
			)
			return nil
		})
	}
	_ = g.Wait()

	var out []string
	for _, seqs := range failed {
		out = append(out, seqs...)
	}
	return out
}

func isExpiry(record *events.DynamoDBEventRecord) bool {
	return record.UserIdentity != nil &&
		record.UserIdentity.Type == "Service" &&
		record.UserIdentity.PrincipalID == ttlPrincipal
}

// tableFromARN extracts the table name from a stream ARN such as
// arn:aws:dynamodb:eu-west-1:123456789012:table/nodes/stream/2024-01-01T00:00:00.000.
func tableFromARN(s string) (string, error) {
	parsed, err := arn.Parse(s)
	if err != nil {
		return "", fmt.Errorf("event source arn: %w", err)
	}
	parts := strings.Split(parsed.Resource, "/")
	if len(parts) < 2 || parts[0] != "table" || parts[1] == "" {
		return "", fmt.Errorf("event source arn %q: not a table resource", s)
	}
	return parts[1], nil
}

func failure(sequence string) events.DynamoDBBatchItemFailure {
	return events.DynamoDBBatchItemFailure{ItemIdentifier: sequence}
}

func sequences(targets []target) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.sequence
	}
	return out
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
