// Package kafkafeed consumes backend change-data-capture topics and adapts
// them to the realtime.Feed contract. One topic per table, JSON envelopes
// {op, table, before, after} per message.
package kafkafeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/ids"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/obs"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/realtime"
)

const defaultTopicPrefix = "novaware.cdc."

// Config describes the broker connection.
type Config struct {
	Brokers []string
	// GroupID is optional. When empty every instance consumes the full
	// stream from the latest offset, which is what a per-session mirror
	// wants; set it only for shared worker deployments.
	GroupID     string
	TopicPrefix string
}

// Feed implements realtime.Feed over Kafka CDC topics.
type Feed struct {
	cfg Config
}

var _ realtime.Feed = (*Feed)(nil)

// New validates the configuration.
func New(cfg Config) (*Feed, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafkafeed: at least one broker is required")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = defaultTopicPrefix
	}
	return &Feed{cfg: cfg}, nil
}

// Subscribe starts one reader on the table's topic. The returned channel is
// closed when ctx ends or the transport drops.
func (f *Feed) Subscribe(ctx context.Context, table string) (<-chan realtime.Event, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, errors.New("kafkafeed: table is required")
	}

	rc := kafka.ReaderConfig{
		Brokers:  f.cfg.Brokers,
		Topic:    f.cfg.TopicPrefix + table,
		GroupID:  f.cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	if f.cfg.GroupID == "" {
		rc.StartOffset = kafka.LastOffset
	}
	reader := kafka.NewReader(rc)

	ch := make(chan realtime.Event, 16)
	go func() {
		defer close(ch)
		defer reader.Close()
		for {
			m, err := reader.FetchMessage(ctx)
			if err != nil {
				// Cancelled or transport loss; the closed channel tells the
				// reconciler which one via ctx.
				return
			}
			evt, err := decodeEvent(table, m.Value)
			if err != nil {
				obs.LogRequest(map[string]any{
					"level": "warn",
					"msg":   "kafkafeed: dropping undecodable event",
					"table": table,
					"error": err.Error(),
				})
				_ = reader.CommitMessages(ctx, m)
				continue
			}
			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
			_ = reader.CommitMessages(ctx, m)
		}
	}()
	return ch, nil
}

type envelope struct {
	ID     string       `json:"id"`
	Op     string       `json:"op"`
	Table  string       `json:"table"`
	Before realtime.Row `json:"before"`
	After  realtime.Row `json:"after"`
}

// decodeEvent parses one CDC envelope. The topic name is authoritative for
// the table; the envelope's table field only has to agree when present.
func decodeEvent(table string, value []byte) (realtime.Event, error) {
	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return realtime.Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Table != "" && env.Table != table {
		return realtime.Event{}, fmt.Errorf("envelope table %q does not match topic table %q", env.Table, table)
	}
	var op realtime.Operation
	switch strings.ToLower(strings.TrimSpace(env.Op)) {
	case "insert", "create":
		op = realtime.OpInsert
	case "update":
		op = realtime.OpUpdate
	case "delete":
		op = realtime.OpDelete
	default:
		return realtime.Event{}, fmt.Errorf("unknown operation %q", env.Op)
	}
	id := env.ID
	if id == "" {
		id = ids.New()
	}
	return realtime.Event{
		ID:     id,
		Op:     op,
		Table:  table,
		Before: env.Before,
		After:  env.After,
	}, nil
}
