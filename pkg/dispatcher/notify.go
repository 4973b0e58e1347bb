package dispatcher

import (
	"github.com/dronetm/upload-dispatcher/pkg/logger"
)

// Notifier surfaces a failed batch to the operator, once per batch
type Notifier interface {
	NotifyFailure(batchID string, message string)
}

// WithNotifier registers the collaborator told about failed batches
func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// LogNotifier reports failed batches through the logger
type LogNotifier struct {
	Logger logger.Logger
}

func (n LogNotifier) NotifyFailure(batchID string, message string) {
	n.Logger.NoticeWithBatch(batchID, "%s", message)
}
