package remote

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Fanout tells every open stream that the task list changed.
type Fanout interface {
	Publish(ctx context.Context) error
	Subscribe() (ch <-chan struct{}, cancel func())
}

// LocalFanout serves the streams of a single server process.
type LocalFanout struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func NewLocalFanout() *LocalFanout {
	return &LocalFanout{subs: make(map[chan struct{}]struct{})}
}

func (f *LocalFanout) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch, func() {
		f.mu.Lock()
		delete(f.subs, ch)
		f.mu.Unlock()
	}
}

func (f *LocalFanout) Publish(context.Context) error {
	f.notify()
	return nil
}

func (f *LocalFanout) notify() {
	f.mu.Lock()
	for ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	f.mu.Unlock()
}

type changeEvent struct {
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

// RedisFanout relays change events through a redis channel so that every
// replica wakes its own streams. Run must be started for subscribers to see
// anything, including this replica's own publishes.
type RedisFanout struct {
	rc      *redis.Client
	channel string
	origin  string
	local   *LocalFanout
	log     *log.Entry
	retry   time.Duration
}

func NewRedisFanout(rc *redis.Client, channel string, logger *log.Entry) *RedisFanout {
	return &RedisFanout{
		rc:      rc,
		channel: channel,
		origin:  uuid.NewString(),
		local:   NewLocalFanout(),
		log:     logger,
		retry:   time.Second,
	}
}

func (f *RedisFanout) Subscribe() (<-chan struct{}, func()) {
	return f.local.Subscribe()
}

func (f *RedisFanout) Publish(ctx context.Context) error {
	payload, err := sonic.Marshal(changeEvent{Origin: f.origin, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return f.rc.Publish(ctx, f.channel, payload).Err()
}

// Run listens on the channel until ctx is done, resubscribing whenever the
// pubsub connection drops.
func (f *RedisFanout) Run(ctx context.Context) {
	for {
		sub := f.rc.Subscribe(ctx, f.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev changeEvent
				if err := sonic.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					f.log.WithError(err).Warn("unable to parse change event")
					continue
				}
				f.log.WithField("origin", ev.Origin).Debug("change event")
				f.local.notify()
			}
		}
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		f.log.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.retry):
		}
	}
}
