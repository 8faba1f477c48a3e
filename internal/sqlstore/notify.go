package sqlstore

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mapi-bridge/internal/driver"
)

var errClosed = errors.New("property store is closed")

type event struct {
	key          string
	notification driver.Notification
}

// notifier delivers table notifications on a single goroutine, in the order
// they were published.
type notifier struct {
	logger *logrus.Logger

	mu     sync.Mutex
	subs   map[string]map[uint64]func(driver.Notification)
	nextID uint64

	events    chan event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newNotifier(logger *logrus.Logger) *notifier {
	n := &notifier{
		logger: logger,
		subs:   make(map[string]map[uint64]func(driver.Notification)),
		events: make(chan event, 256),
		done:   make(chan struct{}),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

func (n *notifier) run() {
	defer n.wg.Done()
	for {
		select {
		case ev := <-n.events:
			n.deliver(ev)
		case <-n.done:
			return
		}
	}
}

func (n *notifier) deliver(ev event) {
	n.mu.Lock()
	fns := make([]func(driver.Notification), 0, len(n.subs[ev.key]))
	for _, fn := range n.subs[ev.key] {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	if len(fns) > 0 {
		n.logger.WithFields(logrus.Fields{"table": ev.key, "subscribers": len(fns)}).Debug("Delivering table notification")
	}
	for _, fn := range fns {
		fn(ev.notification)
	}
}

// publish queues a notification for every table key. It drops events once
// the notifier is closed.
func (n *notifier) publish(typ driver.NotificationType, entryID []byte, keys ...string) {
	for _, key := range keys {
		ev := event{key: key, notification: driver.Notification{Type: typ, EntryID: entryID}}
		select {
		case n.events <- ev:
		case <-n.done:
			return
		}
	}
}

func (n *notifier) subscribe(key string, fn func(driver.Notification)) (driver.Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	select {
	case <-n.done:
		return nil, errClosed
	default:
	}

	n.nextID++
	id := n.nextID
	if n.subs[key] == nil {
		n.subs[key] = make(map[uint64]func(driver.Notification))
	}
	n.subs[key][id] = fn
	return &subscription{n: n, key: key, id: id}, nil
}

func (n *notifier) unsubscribe(key string, id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs[key], id)
	if len(n.subs[key]) == 0 {
		delete(n.subs, key)
	}
}

// subscribers reports how many callbacks are registered for key.
func (n *notifier) subscribers(key string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[key])
}

func (n *notifier) close() {
	n.closeOnce.Do(func() {
		close(n.done)
	})
	n.wg.Wait()
}

type subscription struct {
	n    *notifier
	key  string
	id   uint64
	once sync.Once
}

// Unsubscribe stops delivery to the callback.
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.n.unsubscribe(s.key, s.id)
	})
	return nil
}
