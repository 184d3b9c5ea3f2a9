package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/HZeroxium/fleet-control/domain/approval"
	"github.com/HZeroxium/fleet-control/infrastructure/broker"
	"github.com/HZeroxium/fleet-control/infrastructure/logging"
)

// FinalizedEvent is the message published on a terminal transition.
type FinalizedEvent struct {
	RequestID   string               `json:"requestId"`
	RequestType approval.RequestType `json:"requestType"`
	Status      approval.Status      `json:"status"`
	Target      approval.Target      `json:"target"`
	FinalizedAt time.Time            `json:"finalizedAt"`
}

// BusNotifier fans terminal transitions out through the message bus. Publish
// failures are logged and swallowed; the transition stands.
type BusNotifier struct {
	producer broker.Producer
	topic    string
	logger   *logging.Logger
}

// NewBusNotifier creates a notifier publishing to topic.
func NewBusNotifier(producer broker.Producer, topic string, logger *logging.Logger) *BusNotifier {
	if topic == "" {
		topic = "approval-events"
	}
	return &BusNotifier{producer: producer, topic: topic, logger: logger}
}

// RequestFinalized implements Notifier.
func (n *BusNotifier) RequestFinalized(ctx context.Context, req *approval.Request) {
	event := FinalizedEvent{
		RequestID:   req.ID,
		RequestType: req.Type,
		Status:      req.Status,
		Target:      req.Target,
		FinalizedAt: req.UpdatedAt,
	}
	value, err := json.Marshal(event)
	if err != nil {
		n.logger.WithError(err).Error("encode finalized event")
		return
	}
	key := req.Target.ServiceID
	if key == "" {
		key = req.ID
	}
	if err := n.producer.Publish(ctx, n.topic, key, value); err != nil {
		n.logger.WithError(err).WithField("request_id", req.ID).Error("finalized event publish failed")
	}
}

// ExpirySweeper runs the expiry sweep on a schedule.
type ExpirySweeper struct {
	service *Service
	logger  *logging.Logger
	cron    *cron.Cron
}

// NewExpirySweeper creates the sweeper.
func NewExpirySweeper(service *Service, logger *logging.Logger) *ExpirySweeper {
	return &ExpirySweeper{service: service, logger: logger}
}

// Start schedules the sweep.
func (s *ExpirySweeper) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = "@every 5m"
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(schedule, func() {
		if n := s.service.ExpireSweep(ctx, time.Now().UTC()); n > 0 {
			s.logger.WithField("expired", n).Info("expired stale approval requests")
		}
	}); err != nil {
		return fmt.Errorf("schedule expiry sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule.
func (s *ExpirySweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

var _ Notifier = (*BusNotifier)(nil)

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, req *approval.Request)

// RequestFinalized implements Notifier.
func (f NotifierFunc) RequestFinalized(ctx context.Context, req *approval.Request) {
	f(ctx, req)
}

// FanoutNotifier delivers a terminal transition to every registered notifier.
type FanoutNotifier []Notifier

// RequestFinalized implements Notifier.
func (f FanoutNotifier) RequestFinalized(ctx context.Context, req *approval.Request) {
	for _, n := range f {
		n.RequestFinalized(ctx, req)
	}
}
