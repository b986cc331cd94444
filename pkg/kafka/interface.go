// pkg/kafka/interface.go
//
// Package kafka publishes feed events to Kafka. The Producer contract does
// not leak Sarama types so sinks can be tested against a fake.
package kafka

import "context"

// Producer publishes messages to Kafka.
type Producer interface {
	// Publish delivers according to RequiredAcks, retrying with back-off.
	Publish(ctx context.Context, topic string, key, value []byte) error
	// Ping checks that the cluster is reachable (metadata refresh).
	Ping(ctx context.Context) error
	Close() error
}
