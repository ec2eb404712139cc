package jwks

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Warmer refreshes key sets on a cron schedule so request paths rarely miss.
type Warmer struct {
	cron    *cron.Cron
	r       Refresher
	domains []string
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewWarmer schedules Refresh for each domain. schedule is a robfig/cron
// expression such as "@every 10m".
func NewWarmer(r Refresher, schedule string, timeout time.Duration, log logrus.FieldLogger, domains ...string) (*Warmer, error) {
	if r == nil {
		return nil, errors.New("jwks: warmer needs a refresher")
	}
	if len(domains) == 0 {
		return nil, errors.New("jwks: warmer needs at least one domain")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	w := &Warmer{
		cron:    cron.New(),
		r:       r,
		domains: append([]string(nil), domains...),
		timeout: timeout,
		log:     log,
	}
	if _, err := w.cron.AddFunc(schedule, w.RefreshAll); err != nil {
		return nil, err
	}
	return w, nil
}

// Start runs the schedule in the background.
func (w *Warmer) Start() { w.cron.Start() }

// Stop halts the schedule and waits for a running refresh to finish.
func (w *Warmer) Stop() {
	<-w.cron.Stop().Done()
}

// RefreshAll refreshes every configured domain once.
func (w *Warmer) RefreshAll() {
	for _, d := range w.domains {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		ks, err := w.r.Refresh(ctx, d)
		cancel()
		if err != nil {
			w.log.WithField("domain", d).WithError(err).Warn("jwks warm refresh failed")
			continue
		}
		w.log.WithFields(logrus.Fields{"domain": d, "keys": ks.Len()}).Debug("jwks warmed")
	}
}
