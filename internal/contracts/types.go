// Package contracts defines the typed values exchanged between the evaluator,
// the scheduler, the HTTP API and the CLI.
package contracts

import (
	"fmt"
	"strings"
	"time"
)

// AlertState is the coarse-grained verdict returned to the alerting system.
type AlertState string

// Alert states. These strings are part of the output contract.
const (
	StateOK       AlertState = "OK"
	StateWarning  AlertState = "WARNING"
	StateCritical AlertState = "CRITICAL"
	StateUnknown  AlertState = "UNKNOWN"
)

// AllStates lists the alert states in severity order.
var AllStates = []AlertState{StateOK, StateWarning, StateCritical, StateUnknown}

// ParseAlertState parses a state name, ignoring case.
func ParseAlertState(s string) (AlertState, error) {
	for _, state := range AllStates {
		if strings.EqualFold(s, string(state)) {
			return state, nil
		}
	}
	return "", fmt.Errorf("unknown alert state %q", s)
}

// ExitCode maps a state to the conventional monitoring-plugin exit code.
func (s AlertState) ExitCode() int {
	switch s {
	case StateOK:
		return 0
	case StateWarning:
		return 1
	case StateCritical:
		return 2
	default:
		return 3
	}
}

// AlertResult is the sole output of one evaluation.
type AlertResult struct {
	State    AlertState `json:"state" yaml:"state"`
	Messages []string   `json:"messages" yaml:"messages"`
}

// NewAlertResult builds a result, copying the messages so the caller's slice
// can't alias it.
func NewAlertResult(state AlertState, messages ...string) AlertResult {
	msgs := make([]string, len(messages))
	copy(msgs, messages)
	return AlertResult{State: state, Messages: msgs}
}

// Label returns the first message, or an empty string.
func (r AlertResult) Label() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0]
}

// Evaluation stages, reported next to a result so operators can tell where an
// UNKNOWN came from.
const (
	StageStart       = "start"
	StageResolving   = "resolving"
	StageFetching    = "fetching"
	StageDecoding    = "decoding"
	StageAggregating = "aggregating"
	StageDone        = "done"
)

// Evaluation is an AlertResult plus the diagnostics the scheduler keeps.
type Evaluation struct {
	Result         AlertResult   `json:"result" yaml:"result"`
	Stage          string        `json:"stage" yaml:"stage"`
	UnhealthyHosts []string      `json:"unhealthy_hosts,omitempty" yaml:"unhealthy_hosts,omitempty"`
	RosterSize     int           `json:"roster_size" yaml:"roster_size"`
	Fallback       bool          `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	Duration       time.Duration `json:"duration" yaml:"duration"`
}

// AlertRecord is one persisted evaluation of a target.
type AlertRecord struct {
	ID             string        `json:"id" yaml:"id"`
	Target         string        `json:"target" yaml:"target"`
	HostName       string        `json:"host_name" yaml:"host_name"`
	State          AlertState    `json:"state" yaml:"state"`
	Messages       []string      `json:"messages" yaml:"messages"`
	Stage          string        `json:"stage" yaml:"stage"`
	UnhealthyHosts []string      `json:"unhealthy_hosts,omitempty" yaml:"unhealthy_hosts,omitempty"`
	Skipped        bool          `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Duration       time.Duration `json:"duration" yaml:"duration"`
	Timestamp      time.Time     `json:"timestamp" yaml:"timestamp"`
}

// TargetStatus is the latest known state of a scheduled target.
type TargetStatus struct {
	Target        string       `json:"target" yaml:"target"`
	HostName      string       `json:"host_name" yaml:"host_name"`
	Latest        *AlertRecord `json:"latest,omitempty" yaml:"latest,omitempty"`
	PreviousState AlertState   `json:"previous_state,omitempty" yaml:"previous_state,omitempty"`
	StateSince    *time.Time   `json:"state_since,omitempty" yaml:"state_since,omitempty"`
	// LastSkipped is set while the lifecycle status check keeps the target
	// from being evaluated.
	LastSkipped *time.Time `json:"last_skipped,omitempty" yaml:"last_skipped,omitempty"`
	Evaluations int        `json:"evaluations" yaml:"evaluations"`
}

// APIResponse is the standard wrapper for all API responses
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
