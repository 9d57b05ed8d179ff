// internal/notify/reporter.go
package notify

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"mcp-meal-vision/internal/status"
)

const DefaultDeepLinkBase = "mealvision://app"

type Options struct {
	DeepLinkBase string
	// CanRetry reports whether a failed job can be resubmitted. Without it no
	// notification offers a Retry action.
	CanRetry func(jobID string) bool
	Logger   *log.Logger
	Now      func() time.Time
}

// Reporter turns status transitions into notification content and hands it
// to a Channel.
type Reporter struct {
	channel  Channel
	opts     Options
	logger   *log.Logger
	mu       sync.Mutex
	finished map[string]bool
}

func NewReporter(channel Channel, opts Options) *Reporter {
	if opts.DeepLinkBase == "" {
		opts.DeepLinkBase = DefaultDeepLinkBase
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reporter{
		channel:  channel,
		opts:     opts,
		logger:   opts.Logger.WithPrefix("notify"),
		finished: make(map[string]bool),
	}
}

// Listener returns the reporter as a status.Listener.
func (r *Reporter) Listener() status.Listener {
	return r.Observe
}

func (r *Reporter) Observe(jobID string, _, next status.AnalysisStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch s := next.(type) {
	case status.Idle:
		delete(r.finished, jobID)

	case status.Analyzing:
		if r.finished[jobID] {
			r.logger.Debug("dropping stale progress", "job_id", jobID)
			return
		}
		r.deliver(jobID, "update", r.channel.Update, ongoing(jobID, s))

	case status.Success:
		r.finish(jobID)
		r.deliver(jobID, "complete", r.channel.Complete, success(jobID, r.opts.DeepLinkBase, s))

	case status.Error:
		r.finish(jobID)
		if s.Kind == nil && !s.NoFood {
			// Cancelled: the user asked for it, so only the progress goes away.
			return
		}
		canRetry := r.opts.CanRetry != nil && r.opts.CanRetry(jobID)
		r.deliver(jobID, "complete", r.channel.Complete, failed(jobID, s, canRetry))
	}
}

func (r *Reporter) finish(jobID string) {
	r.finished[jobID] = true
	if err := r.channel.Cancel(OngoingNotificationID, jobID); err != nil {
		r.logger.Warn("failed to dismiss progress", "job_id", jobID, "err", err)
	}
}

func (r *Reporter) deliver(jobID, op string, send func(Notification) error, n Notification) {
	n.PostedAt = r.opts.Now()
	if err := send(n); err != nil {
		r.logger.Warn("failed to deliver notification", "job_id", jobID, "op", op, "err", err)
	}
}
