package pool

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventKind - тип события жизненного цикла соединения.
type EventKind string

const (
	EventOpen       EventKind = "open"
	EventOpenFailed EventKind = "open_failed"
	EventClose      EventKind = "close"
	EventDestroy    EventKind = "destroy"
	EventCheckout   EventKind = "checkout"
	EventCheckin    EventKind = "checkin"
	EventWait       EventKind = "wait"
	EventTimeout    EventKind = "timeout"
	EventCancel     EventKind = "cancel"
	EventDrain      EventKind = "drain"
)

// Event описывает одно событие пула.
type Event struct {
	Kind   EventKind
	ConnID uuid.UUID
	// Wait - время ожидания в очереди для checkout, timeout и cancel
	Wait time.Duration
	At   time.Time
}

// EventRecorder получает события пула. Вызывается вне критической секции;
// ошибки только логируются.
type EventRecorder interface {
	Record(ctx context.Context, ev Event) error
}

// recordTimeout ограничивает время записи одного события
const recordTimeout = 500 * time.Millisecond

func (p *Pool) record(ctx context.Context, kind EventKind, id uuid.UUID, wait time.Duration) {
	if p.recorder == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	ev := Event{Kind: kind, ConnID: id, Wait: wait, At: time.Now()}
	if err := p.recorder.Record(ctx, ev); err != nil {
		p.log.Debug("pool event not recorded", "event", string(kind), "error", err)
	}
}
