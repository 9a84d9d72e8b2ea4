package events

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

// Notification is the in-process fan-out of one committed ingestion batch.
// Delivery is best effort: the batch is already durable (and mirrored in the
// outbox ledger) before a Notification is ever published, so a dropped
// message loses nothing but immediacy.
type Notification struct {
	SiteID            string          `json:"site_id"`
	SiteName          string          `json:"site_name"`
	BatchID           string          `json:"batch_id"`
	MeasurementCount  int             `json:"measurement_count"`
	TotalNewEmissions decimal.Decimal `json:"total_new_emissions"`
	TotalEmissions    decimal.Decimal `json:"total_emissions"`
	IdempotencyKey    string          `json:"idempotency_key"`
	CommittedAt       time.Time       `json:"committed_at"`
}

type Notifier struct {
	mu               sync.Mutex
	buffer           []Notification
	subs             map[uint64]chan Notification
	nextID           uint64
	bufferSize       int
	subscriberBuffer int
}

type Subscription struct {
	notifier *Notifier
	id       uint64
	ch       chan Notification
	once     sync.Once
}

func NewNotifier() *Notifier {
	return &Notifier{
		subs:             make(map[uint64]chan Notification),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish fans the notification out to every live subscriber. Sends never
// block: a subscriber with a full channel misses the message.
func (n *Notifier) Publish(note Notification) {
	if n == nil {
		return
	}

	n.mu.Lock()
	n.buffer = append(n.buffer, note)
	if len(n.buffer) > n.bufferSize {
		n.buffer = n.buffer[len(n.buffer)-n.bufferSize:]
	}
	subs := make([]chan Notification, 0, len(n.subs))
	for _, ch := range n.subs {
		subs = append(subs, ch)
	}
	n.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- note:
		default:
		}
	}
}

// Subscribe registers a new consumer and returns the recent-history buffer
// so late joiners can catch up.
func (n *Notifier) Subscribe() (*Subscription, []Notification, error) {
	if n == nil {
		return nil, nil, errors.New("notifier_unavailable")
	}

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	ch := make(chan Notification, n.subscriberBuffer)
	n.subs[id] = ch
	history := append([]Notification(nil), n.buffer...)
	n.mu.Unlock()

	return &Subscription{notifier: n, id: id, ch: ch}, history, nil
}

func (n *Notifier) unsubscribe(id uint64) {
	if n == nil {
		return
	}
	n.mu.Lock()
	delete(n.subs, id)
	n.mu.Unlock()
}

func (s *Subscription) Events() <-chan Notification {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.notifier == nil {
		return
	}
	s.once.Do(func() {
		s.notifier.unsubscribe(s.id)
	})
}
