// Package health probes the trust service provider and alerts when it stays
// unavailable.
package health

import (
	"time"
)

const (
	// HistorySize is the capacity of the rolling sample window.
	HistorySize = 30
	// DefaultFailureThreshold is the number of consecutive non-healthy samples
	// that raises the failure alert.
	DefaultFailureThreshold = 10

	degradedLatency  = 200 * time.Millisecond
	unhealthyLatency = 500 * time.Millisecond
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Sample is one probe result.
type Sample struct {
	At        time.Time `json:"at"`
	Status    Status    `json:"status"`
	LatencyMS int64     `json:"latency_ms"`
	AuthOK    bool      `json:"auth_ok"`
	APIOK     bool      `json:"api_ok"`
	Message   string    `json:"message,omitempty"`
}

// State is the monitor's owned state. The zero value is not ready for use;
// start from NewState.
type State struct {
	Samples             []Sample   `json:"samples"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	AlertActive         bool       `json:"alert_active"`
	UnhealthySince      *time.Time `json:"unhealthy_since,omitempty"`
	AlertsEnabled       bool       `json:"alerts_enabled"`
}

func NewState() *State {
	return &State{
		Samples:       make([]Sample, 0, HistorySize),
		AlertsEnabled: true,
	}
}

// Transition is what an observed sample did to the alert condition.
type Transition int

const (
	TransitionNone Transition = iota
	// TransitionFailure is returned once, when the failure count reaches the
	// threshold.
	TransitionFailure
	// TransitionRecovery is returned once, on the first healthy sample after a
	// failure transition.
	TransitionRecovery
)

// Observe appends s to the window and updates the failure counter. Downtime is
// set on recovery as the number of failed samples times interval.
func (st *State) Observe(s Sample, threshold int, interval time.Duration) (t Transition, downtime time.Duration) {
	if len(st.Samples) >= HistorySize {
		st.Samples = append(st.Samples[:0], st.Samples[len(st.Samples)-HistorySize+1:]...)
	}
	st.Samples = append(st.Samples, s)

	if s.Status != StatusHealthy {
		if st.ConsecutiveFailures == 0 {
			at := s.At
			st.UnhealthySince = &at
		}
		st.ConsecutiveFailures++
		if st.ConsecutiveFailures >= threshold && !st.AlertActive {
			st.AlertActive = true
			return TransitionFailure, 0
		}
		return TransitionNone, 0
	}

	failures := st.ConsecutiveFailures
	st.ConsecutiveFailures = 0
	st.UnhealthySince = nil
	if st.AlertActive {
		st.AlertActive = false
		return TransitionRecovery, time.Duration(failures) * interval
	}
	return TransitionNone, 0
}

// Reset clears the window and counters. The alerts toggle is kept.
func (st *State) Reset() {
	st.Samples = make([]Sample, 0, HistorySize)
	st.ConsecutiveFailures = 0
	st.AlertActive = false
	st.UnhealthySince = nil
}

// Last returns the most recent sample.
func (st *State) Last() (Sample, bool) {
	if len(st.Samples) == 0 {
		return Sample{}, false
	}
	return st.Samples[len(st.Samples)-1], true
}

// History returns a copy of the window, oldest first.
func (st *State) History() []Sample {
	out := make([]Sample, len(st.Samples))
	copy(out, st.Samples)
	return out
}

// Classify maps a provider report to a status.
func Classify(authOK, apiOK, partial bool, latency time.Duration) Status {
	switch {
	case !authOK || (!apiOK && !partial):
		return StatusUnhealthy
	case latency > unhealthyLatency:
		return StatusUnhealthy
	case partial || latency >= degradedLatency:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
