package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Decision records the outcome of one authorization attempt.
type Decision struct {
	ID         uuid.UUID
	At         time.Time
	Permission string
	Subject    string // empty unless the token verified
	Allowed    bool
	Kind       ErrorKind // zero when Allowed
}

// NewDecision stamps a decision with a fresh ID.
func NewDecision(at time.Time, permission string) Decision {
	return Decision{ID: uuid.New(), At: at, Permission: permission}
}

// DecisionLogger records authorization decisions to an external sink.
// Implementations should be non-blocking and best-effort.
type DecisionLogger interface {
	LogDecision(ctx context.Context, d Decision)
}

// LogrusDecisionLogger writes decisions as structured log entries.
type LogrusDecisionLogger struct {
	Log logrus.FieldLogger
}

func (l LogrusDecisionLogger) LogDecision(_ context.Context, d Decision) {
	log := l.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	entry := log.WithFields(logrus.Fields{
		"decision_id": d.ID.String(),
		"permission":  d.Permission,
		"allowed":     d.Allowed,
	})
	if d.Subject != "" {
		entry = entry.WithField("sub", d.Subject)
	}
	if d.Allowed {
		entry.Debug("authorization granted")
		return
	}
	entry.WithField("kind", d.Kind.String()).Info("authorization denied")
}
