package msgbus

import (
	"fmt"

	"go.uber.org/zap"
)

// Routing outcomes, also used as metric labels.
const (
	routedEvent       = "event"
	routedReply       = "reply"
	droppedEvent      = "unsubscribed_event"
	droppedReply      = "unknown_reply"
	droppedMalformed  = "malformed"
	droppedUnroutable = "unroutable"
)

// MessageRouter dispatches inbound frames: events to the handler of their
// channel, replies to the pending reply table.
//
// Route never panics. Malformed frames, replies with unknown ids and events
// for channels without a local subscription are dropped and only logged;
// a panicking handler is recovered and logged.
type MessageRouter struct {
	registry *SubscriptionRegistry
	pending  *PendingReplyTable
	logger   *zap.Logger
	metrics  *Metrics
}

// NewMessageRouter returns a router over registry and pending.
func NewMessageRouter(registry *SubscriptionRegistry, pending *PendingReplyTable, logger *zap.Logger, metrics *Metrics) *MessageRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageRouter{registry: registry, pending: pending, logger: logger, metrics: metrics}
}

// Route dispatches one raw inbound frame and returns the routing outcome.
func (router *MessageRouter) Route(data []byte) string {
	router.logger.Debug("message received", zap.ByteString("data", data))

	frame, err := decodeInbound(data)
	if err != nil {
		router.logger.Debug("malformed frame", zap.Error(err))
		return router.outcome(droppedMalformed)
	}

	if frame.Type == FrameEvent {
		subscription, exists := router.registry.Get(frame.Channel)
		if !exists {
			router.logger.Debug("event for unsubscribed channel", zap.String("channel", frame.Channel))
			return router.outcome(droppedEvent)
		}
		router.deliver(subscription, Payload(frame.Payload))
		return router.outcome(routedEvent)
	}

	if frame.ReplyID == "" {
		return router.outcome(droppedUnroutable)
	}
	if !router.pending.Resolve(frame) {
		router.logger.Debug("unknown reply id", zap.String("replyId", frame.ReplyID))
		return router.outcome(droppedReply)
	}
	router.logger.Debug("resolved pending reply", zap.String("replyId", frame.ReplyID), zap.String("type", frame.Type))
	return router.outcome(routedReply)
}

func (router *MessageRouter) deliver(subscription Subscription, payload Payload) {
	defer func() {
		if recovered := recover(); recovered != nil {
			router.logger.Warn("event handler panicked",
				zap.String("channel", subscription.Channel),
				zap.String("panic", fmt.Sprint(recovered)))
		}
	}()
	if subscription.Handler != nil {
		subscription.Handler(payload)
	}
}

func (router *MessageRouter) outcome(outcome string) string {
	router.metrics.frameReceived(outcome)
	return outcome
}
