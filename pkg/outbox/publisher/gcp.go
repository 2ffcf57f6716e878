package publisher

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type publisherSource interface {
	Publisher(name string) *gcppubsub.Publisher
}

// GCPTopics adapts a Pub/Sub client to a TopicFactory. Publisher handles are
// cached per topic so their batching buffers are reused.
func GCPTopics(client publisherSource) TopicFactory {
	cache := map[string]Topic{}
	return func(name string) Topic {
		if topic, ok := cache[name]; ok {
			return topic
		}
		p := client.Publisher(name)
		if p == nil {
			return nil
		}
		topic := &gcpTopic{publisher: p}
		cache[name] = topic
		return topic
	}
}

type gcpTopic struct {
	publisher *gcppubsub.Publisher
}

func (t *gcpTopic) Publish(ctx context.Context, msg *gcppubsub.Message) Result {
	return &gcpResult{result: t.publisher.Publish(ctx, msg)}
}

type gcpResult struct {
	result *gcppubsub.PublishResult
}

func (r *gcpResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.result == nil {
		return "", errors.New("publish result is nil")
	}
	return r.result.Get(ctx)
}
