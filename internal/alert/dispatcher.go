package alert

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ppiankov/icsrisk/internal/assess"
	"github.com/ppiankov/icsrisk/internal/config"
	"github.com/ppiankov/icsrisk/internal/logging"
)

// breaker settings per webhook: trip after 3 consecutive failed deliveries,
// probe again after a minute.
const (
	breakerFailures = 3
	breakerTimeout  = time.Minute
)

type webhook struct {
	cfg     config.WebhookConfig
	breaker *gobreaker.CircuitBreaker
}

// Dispatcher fans out alert events to matching webhooks. All methods are
// safe on a nil *Dispatcher.
type Dispatcher struct {
	thresholds config.AlertsConfig
	webhooks   []webhook
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from the alerts configuration. Returns
// nil if no webhooks are configured.
func NewDispatcher(cfg config.AlertsConfig, logger *zap.Logger) *Dispatcher {
	if len(cfg.Webhooks) == 0 {
		return nil
	}
	d := &Dispatcher{thresholds: cfg, logger: logging.OrNop(logger)}
	for _, w := range cfg.Webhooks {
		d.webhooks = append(d.webhooks, webhook{
			cfg: w,
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:    w.URL,
				Timeout: breakerTimeout,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= breakerFailures
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					d.logger.Warn("webhook circuit breaker state changed",
						zap.String("url", name),
						zap.String("from", from.String()),
						zap.String("to", to.String()))
				},
			}),
		})
	}
	return d
}

// Notify evaluates rep against the thresholds and dispatches the resulting
// events. It does not block.
func (d *Dispatcher) Notify(rep *assess.Report) {
	if d == nil {
		return
	}
	for _, e := range Evaluate(d.thresholds, rep) {
		d.Dispatch(e)
	}
}

// Dispatch sends the event to all webhooks whose Events list contains its
// type. Fires goroutines; use Wait to drain them.
func (d *Dispatcher) Dispatch(event Event) {
	if d == nil {
		return
	}
	for i := range d.webhooks {
		w := &d.webhooks[i]
		if !slices.Contains(w.cfg.Events, event.Type) {
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			_, err := w.breaker.Execute(func() (any, error) {
				return nil, Send(context.Background(), w.cfg, event)
			})
			if err != nil {
				d.logger.Warn("alert delivery failed",
					zap.String("url", w.cfg.URL),
					zap.String("type", event.Type),
					zap.String("assessment_id", event.AssessmentID),
					zap.Error(err))
			}
		}()
	}
}

// Wait blocks until every dispatched event has been delivered or given up.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
