// Package relay mirrors conversation broadcasts across gateway nodes through
// Kafka. A message published on one node is consumed and re-broadcast locally
// by every other node, so subscribers are reachable no matter which gateway
// holds their connection. Single-node deployments run without a relay.
package relay

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// envelope is the cross-node wire record. NodeID lets consumers drop their
// own publishes instead of double-broadcasting.
type envelope struct {
	NodeID         string          `json:"node_id"`
	ConversationID uint            `json:"conversation_id"`
	Payload        json.RawMessage `json:"payload"`
}

// LocalBroadcaster re-broadcasts a relayed payload to this node's
// subscribers. Implemented by the channel registry.
type LocalBroadcaster interface {
	PublishLocal(conversationID uint, payload json.RawMessage)
}

type KafkaRelay struct {
	nodeID string
	writer *kafka.Writer
	reader *kafka.Reader
}

// NewKafkaRelay connects a producer and a fan-out consumer to the broadcast
// topic. Each node uses a unique consumer group so every node sees every
// record.
func NewKafkaRelay(brokers []string, topic, nodeID string) *KafkaRelay {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     "chatsync-gateway-" + nodeID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	return &KafkaRelay{
		nodeID: nodeID,
		writer: writer,
		reader: reader,
	}
}

// Relay mirrors one broadcast payload to the topic. Keyed by conversation so
// per-conversation order survives partitioning.
func (r *KafkaRelay) Relay(conversationID uint, payload []byte) error {
	env := envelope{
		NodeID:         r.nodeID,
		ConversationID: conversationID,
		Payload:        payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(conversationID), 10)),
		Value: data,
	})
}

// Run consumes the topic and re-broadcasts foreign records locally. Blocks
// until the context is canceled.
func (r *KafkaRelay) Run(ctx context.Context, local LocalBroadcaster) {
	for {
		m, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("relay consumer error: %v", err)
			continue
		}

		var env envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			log.Printf("relay record malformed: %v", err)
			continue
		}
		if env.NodeID == r.nodeID {
			continue // own publish, already broadcast locally
		}

		local.PublishLocal(env.ConversationID, env.Payload)
	}
}

func (r *KafkaRelay) Close() error {
	werr := r.writer.Close()
	rerr := r.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
