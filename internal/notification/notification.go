package notification

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const (
	// KindP2PTransfer indicates a P2P payment event.
	KindP2PTransfer = "p2p_transfer"
	// KindTip indicates a tip received for published content.
	KindTip = "tip"
	// KindTxCompleted indicates a server payment settled.
	KindTxCompleted = "tx_completed"
	// KindAuthToken carries a push-authentication token to the device.
	KindAuthToken = "auth_token"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
	Data        map[string]string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *zap.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *zap.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger. Data values are not
// logged since they may carry tokens.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		zap.String("kind", message.Kind),
		zap.String("destination", message.Destination),
		zap.String("body", message.Body),
		zap.Int("data_fields", len(message.Data)),
	)
	return nil
}

// Recorder keeps every message in memory. Tests use it to assert deliveries.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

// Fail makes subsequent sends return err.
func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Send records the message.
func (r *Recorder) Send(_ context.Context, message Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, message)
	return nil
}

// Messages returns the recorded messages of the given kind.
func (r *Recorder) Messages(kind string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, 0)
	for _, m := range r.messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}
