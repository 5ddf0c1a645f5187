package health

import "time"

type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Tracker turns a stream of individual probe results into a smoothed
// status: one failure after a healthy streak is degraded, only
// FailureThreshold consecutive failures flip to unhealthy.
type Tracker struct {
	FailureThreshold int

	status              Status
	consecutiveFailures int
	consecutiveOKs      int
	lastChange          time.Time
}

func NewTracker(failureThreshold int) *Tracker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	return &Tracker{FailureThreshold: failureThreshold, status: StatusUnknown}
}

// Observe records one probe result and returns the resulting status.
func (t *Tracker) Observe(err error) Status {
	prev := t.status
	if err == nil {
		t.consecutiveOKs++
		t.consecutiveFailures = 0
		t.status = StatusHealthy
	} else {
		t.consecutiveFailures++
		t.consecutiveOKs = 0
		switch {
		case t.consecutiveFailures >= t.FailureThreshold:
			t.status = StatusUnhealthy
		case prev == StatusHealthy || prev == StatusDegraded:
			t.status = StatusDegraded
		}
		// Below threshold from unknown: stay unknown until the verdict
		// is earned either way.
	}
	if t.status != prev {
		t.lastChange = time.Now()
	}
	return t.status
}

func (t *Tracker) Status() Status { return t.status }

func (t *Tracker) LastChange() time.Time { return t.lastChange }

func (t *Tracker) ConsecutiveFailures() int { return t.consecutiveFailures }
