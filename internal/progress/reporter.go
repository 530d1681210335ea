// Package progress is the read-only query surface polled by clients.
//
// Terminal statuses (completed, canceled, failed) must not stick forever in
// a client's UI, so every service picks one expiry policy:
//
//   - ResetOnRead: the first read that observes a terminal status returns it
//     and resets the record to idle in the same critical section.
//   - Grace: a terminal status is served for a fixed window measured from its
//     first observation, then the record resets to idle.
package progress

import (
	"fmt"
	"time"

	"github.com/mattjoyce/mediaflow/internal/config"
	"github.com/mattjoyce/mediaflow/internal/session"
)

// Policy decides what a read returns and whether it resets the record.
// Observe is called with the record locked.
type Policy interface {
	Name() string
	Observe(rec *session.Record, now time.Time) session.Progress
}

// ResetOnRead serves a terminal status once.
type ResetOnRead struct{}

func (ResetOnRead) Name() string { return config.TerminalResetOnRead }

func (ResetOnRead) Observe(rec *session.Record, _ time.Time) session.Progress {
	p := rec.Progress()
	if rec.Status.Terminal() {
		rec.ResetIdle()
	}
	return p
}

// Grace serves a terminal status for Window after it is first observed.
type Grace struct {
	Window time.Duration
}

func (g Grace) Name() string { return config.TerminalGrace }

func (g Grace) Observe(rec *session.Record, now time.Time) session.Progress {
	if !rec.Status.Terminal() {
		return rec.Progress()
	}
	if rec.TerminalSince.IsZero() {
		rec.TerminalSince = now
		return rec.Progress()
	}
	if now.Sub(rec.TerminalSince) < g.Window {
		return rec.Progress()
	}
	rec.ResetIdle()
	return rec.Progress()
}

// PolicyFor builds the policy configured for a service.
func PolicyFor(svc config.PipelineConfig) (Policy, error) {
	switch svc.TerminalPolicy {
	case config.TerminalResetOnRead:
		return ResetOnRead{}, nil
	case config.TerminalGrace:
		return Grace{Window: svc.GraceWindow}, nil
	default:
		return nil, fmt.Errorf("unknown terminal policy %q", svc.TerminalPolicy)
	}
}

// Reporter serves progress reads for every service.
type Reporter struct {
	sessions *session.Registry
	policies map[string]Policy
	now      func() time.Time
}

// NewReporter creates a reporter. Services without a policy fall back to ResetOnRead.
func NewReporter(sessions *session.Registry, policies map[string]Policy) *Reporter {
	return &Reporter{
		sessions: sessions,
		policies: policies,
		now:      time.Now,
	}
}

// GetProgress returns the client's progress on service, applying its terminal policy.
func (r *Reporter) GetProgress(clientID, service string) session.Progress {
	policy, ok := r.policies[service]
	if !ok {
		policy = ResetOnRead{}
	}

	st := r.sessions.GetOrCreate(clientID, service)
	var p session.Progress
	now := r.now()
	st.View(func(rec *session.Record) {
		p = policy.Observe(rec, now)
	})
	return p
}
