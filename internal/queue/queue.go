package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/invite-engine/internal/domain"
)

// Publisher publishes delivery messages to a work queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DeliveryMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg DeliveryMessage) error

// Consumer consumes delivery messages from a work queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

var supportedChannels = []domain.Channel{
	domain.ChannelPush,
	domain.ChannelSMS,
	domain.ChannelPortal,
}

const (
	// queueMaxPriority is the RabbitMQ x-max-priority value for work queues.
	queueMaxPriority int32 = 10
)

// QueueName returns the channel work queue name, e.g. push.
func QueueName(channel domain.Channel) string {
	return strings.ToLower(channel.String())
}

// DLQName returns the dead-letter queue name for a channel, e.g. dlq.push.
func DLQName(channel domain.Channel) string {
	return fmt.Sprintf("dlq.%s", QueueName(channel))
}

// WorkQueueNames returns all channel work queues (3 total).
func WorkQueueNames() []string {
	queues := make([]string, 0, len(supportedChannels))
	for _, channel := range supportedChannels {
		queues = append(queues, QueueName(channel))
	}
	return queues
}

// DLQNames returns all dead-letter queues (3 total).
func DLQNames() []string {
	queues := make([]string, 0, len(supportedChannels))
	for _, channel := range supportedChannels {
		queues = append(queues, DLQName(channel))
	}
	return queues
}

// PriorityValue maps a 1-100 contact priority score to RabbitMQ message
// priority (0-9) so higher ranked contacts dequeue first within a batch.
func PriorityValue(score int) uint8 {
	if score < 1 {
		return 0
	}
	if score > 99 {
		return 9
	}
	return uint8(score / 10)
}
