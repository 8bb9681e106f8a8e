package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/loanflow/analytics"
	"github.com/mohitkumar/loanflow/logger"
	"github.com/mohitkumar/loanflow/metrics"
	"github.com/mohitkumar/loanflow/model"
	"github.com/mohitkumar/loanflow/util"
	"go.uber.org/zap"
)

// Emitter is the fire and forget side of the bridge used by state changing code.
type Emitter interface {
	Emit(kind model.EventKind, entityId string, payload map[string]any)
	Audit(entry model.AuditEntry)
}

var _ Emitter = new(Dispatcher)

type DispatcherConfig struct {
	Timeout     time.Duration
	Capacity    int
	MaxAttempts int
}

type delivery struct {
	event    *model.Event
	audit    *model.AuditEntry
	attempts int
}

// Dispatcher hands bridge I/O to a bounded worker. Deliveries that fail or do
// not fit in the worker are parked and retried by RetryFailed.
type Dispatcher struct {
	sink      NotificationSink
	audit     analytics.AuditSink
	templates *Templates
	clock     util.Clock
	conf      DispatcherConfig
	queue     *util.Queue[*delivery]
	mu        sync.Mutex
	failed    []*delivery
}

func NewDispatcher(sink NotificationSink, audit analytics.AuditSink, templates *Templates, clock util.Clock, conf DispatcherConfig, wg *sync.WaitGroup) *Dispatcher {
	if conf.Timeout <= 0 {
		conf.Timeout = 2 * time.Second
	}
	if conf.Capacity <= 0 {
		conf.Capacity = 256
	}
	if conf.MaxAttempts <= 0 {
		conf.MaxAttempts = 5
	}
	d := &Dispatcher{
		sink:      sink,
		audit:     audit,
		templates: templates,
		clock:     clock,
		conf:      conf,
	}
	d.queue = util.NewQueue("notification-dispatcher", wg, d.handle, conf.Capacity)
	return d
}

func (d *Dispatcher) Start() error {
	d.queue.Start()
	logger.Info("notification dispatcher started")
	return nil
}

func (d *Dispatcher) Stop() error {
	d.queue.Stop()
	return nil
}

func (d *Dispatcher) Emit(kind model.EventKind, entityId string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	if d.templates != nil {
		payload["message"] = d.templates.Render(kind, payload)
	}
	ev := &model.Event{
		Id:         uuid.New().String(),
		Kind:       kind,
		EntityId:   entityId,
		OccurredAt: d.clock.Now(),
		Payload:    payload,
	}
	d.offer(&delivery{event: ev})
}

func (d *Dispatcher) Audit(entry model.AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = d.clock.Now()
	}
	d.offer(&delivery{audit: &entry})
}

func (d *Dispatcher) offer(task *delivery) {
	if !d.queue.Offer(task) {
		logger.Error("notification dispatcher is full, parking delivery", zap.String("kind", task.kind()), zap.Int("queued", d.queue.Len()))
		d.park(task)
	}
}

func (d *Dispatcher) handle(task *delivery) error {
	if err := d.deliver(task); err != nil {
		d.park(task)
		return err
	}
	return nil
}

func (d *Dispatcher) deliver(task *delivery) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.conf.Timeout)
	defer cancel()
	var err error
	task.attempts++
	if task.event != nil {
		task.event.Attempts = task.attempts
		err = d.sink.Notify(ctx, task.event.Kind, task.event.Payload)
	} else if task.audit != nil {
		err = d.audit.Record(ctx, *task.audit)
	}
	if err != nil {
		metrics.NotificationFailure(ctx, task.kind())
	}
	return err
}

func (d *Dispatcher) park(task *delivery) {
	if task.attempts >= d.conf.MaxAttempts {
		logger.Error("dropping delivery, max attempts reached", zap.String("kind", task.kind()), zap.Int("attempts", task.attempts))
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed = append(d.failed, task)
}

// RetryFailed redelivers parked deliveries inline and returns how many succeeded.
func (d *Dispatcher) RetryFailed() int {
	d.mu.Lock()
	pending := d.failed
	d.failed = nil
	d.mu.Unlock()

	delivered := 0
	for _, task := range pending {
		if err := d.deliver(task); err != nil {
			logger.Error("error redelivering notification", zap.String("kind", task.kind()), zap.Error(err))
			d.park(task)
			continue
		}
		delivered++
	}
	return delivered
}

func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.failed)
}

func (t *delivery) kind() string {
	if t.event != nil {
		return string(t.event.Kind)
	}
	return "audit"
}
