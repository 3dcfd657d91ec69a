package federation

import (
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
)

// Overlay is the small transport boundary sync coordination depends on.
// Production deployments back it with LibP2POverlay; tests use an
// in-memory fake, per spec §6's dynamic-dispatch boundary guidance.
type Overlay interface {
	Broadcast(topic string, data []byte) error
	Subscribe(topic string) (<-chan []byte, error)
	Close() error
}

// LibP2POverlay is the production Overlay, a libp2p host with gossipsub
// topics. Grounded on core/network.go's Node: mutex-guarded topic/sub
// maps, lazy Join-on-first-use, logrus warnings on subscription errors.
type LibP2POverlay struct {
	host   host.Host
	pubsub *pubsub.PubSub
	ctx    context.Context
	cancel context.CancelFunc

	topicLock sync.Mutex
	topics    map[string]*pubsub.Topic
	subLock   sync.Mutex
	subs      map[string]*pubsub.Subscription

	log *logrus.Logger
}

// NewLibP2POverlay bootstraps a libp2p host listening on listenAddr and
// dials bootstrapPeers, logging (not failing) on individual dial errors,
// matching core/network.go's DialSeed tolerance of partial failure.
func NewLibP2POverlay(listenAddr string, bootstrapPeers []string, log *logrus.Logger) (*LibP2POverlay, error) {
	if log == nil {
		log = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("federation: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("federation: create pubsub: %w", err)
	}

	o := &LibP2POverlay{
		host:   h,
		pubsub: ps,
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		log:    log,
	}

	for _, addr := range bootstrapPeers {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			o.log.Warnf("federation: invalid bootstrap addr %s: %v", addr, err)
			continue
		}
		if err := h.Connect(ctx, *pi); err != nil {
			o.log.Warnf("federation: dial bootstrap %s: %v", addr, err)
			continue
		}
	}

	return o, nil
}

func (o *LibP2POverlay) joinTopic(topic string) (*pubsub.Topic, error) {
	o.topicLock.Lock()
	defer o.topicLock.Unlock()
	t, ok := o.topics[topic]
	if ok {
		return t, nil
	}
	t, err := o.pubsub.Join(topic)
	if err != nil {
		return nil, fmt.Errorf("federation: join topic %s: %w", topic, err)
	}
	o.topics[topic] = t
	return t, nil
}

// Broadcast publishes data on topic, joining it lazily on first use.
func (o *LibP2POverlay) Broadcast(topic string, data []byte) error {
	t, err := o.joinTopic(topic)
	if err != nil {
		return err
	}
	if err := t.Publish(o.ctx, data); err != nil {
		return fmt.Errorf("federation: publish topic %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns a channel of raw message payloads for topic. The
// channel closes when the subscription's Next call errors (typically
// context cancellation via Close).
func (o *LibP2POverlay) Subscribe(topic string) (<-chan []byte, error) {
	o.subLock.Lock()
	sub, ok := o.subs[topic]
	if !ok {
		t, err := o.joinTopic(topic)
		if err != nil {
			o.subLock.Unlock()
			return nil, err
		}
		sub, err = t.Subscribe()
		if err != nil {
			o.subLock.Unlock()
			return nil, fmt.Errorf("federation: subscribe topic %s: %w", topic, err)
		}
		o.subs[topic] = sub
	}
	o.subLock.Unlock()

	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(o.ctx)
			if err != nil {
				o.log.Warnf("federation: subscription on %s ended: %v", topic, err)
				return
			}
			out <- msg.Data
		}
	}()
	return out, nil
}

// Close tears down the host and cancels all subscriptions.
func (o *LibP2POverlay) Close() error {
	o.cancel()
	return o.host.Close()
}
