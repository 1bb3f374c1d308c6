package relay

import (
	"context"
	"fmt"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/welfare-engine/pkg/outbox/registry"
)

type orderedPublishers interface {
	OrderedPublisher(name string) *gcppubsub.Publisher
}

// PubSubPublisher sends relay messages to Google Pub/Sub, one ordered
// publisher per topic.
type PubSubPublisher struct {
	client orderedPublishers

	mu     sync.Mutex
	topics map[string]*gcppubsub.Publisher
}

func NewPubSubPublisher(client orderedPublishers) *PubSubPublisher {
	return &PubSubPublisher{client: client, topics: map[string]*gcppubsub.Publisher{}}
}

func (p *PubSubPublisher) Publish(ctx context.Context, msg registry.Message) (string, error) {
	pub, err := p.topic(msg.Topic)
	if err != nil {
		return "", err
	}
	res := pub.Publish(ctx, &gcppubsub.Message{
		Data:        msg.Data,
		Attributes:  msg.Attributes,
		OrderingKey: msg.OrderingKey,
	})
	id, err := res.Get(ctx)
	if err != nil {
		// A failed key is paused by the client until resumed.
		if msg.OrderingKey != "" {
			pub.ResumePublish(msg.OrderingKey)
		}
		return "", err
	}
	return id, nil
}

func (p *PubSubPublisher) topic(name string) (*gcppubsub.Publisher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pub, ok := p.topics[name]; ok {
		return pub, nil
	}
	pub := p.client.OrderedPublisher(name)
	if pub == nil {
		return nil, registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %q", name))
	}
	p.topics[name] = pub
	return pub, nil
}

// Stop flushes and stops every topic publisher.
func (p *PubSubPublisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, pub := range p.topics {
		pub.Stop()
		delete(p.topics, name)
	}
}
