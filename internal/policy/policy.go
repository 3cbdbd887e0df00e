// Package policy decides what happens after a supervised process exits.
//
// Evaluate is a pure function: it never reads the clock and never touches
// process state. The supervisor feeds it the run that just ended and applies
// the returned Verdict.
package policy

import (
	"fmt"
	"time"

	"github.com/Paintersrp/procsup/internal/spec"
)

// Kind enumerates the possible decisions.
type Kind int

const (
	// Stop leaves the process stopped; it is not a failure.
	Stop Kind = iota
	// Restart respawns immediately.
	Restart
	// RestartAfter respawns once Verdict.Delay has elapsed.
	RestartAfter
	// GiveUp marks the process as permanently failed.
	GiveUp
)

func (k Kind) String() string {
	switch k {
	case Stop:
		return "stop"
	case Restart:
		return "restart"
	case RestartAfter:
		return "restart_after"
	case GiveUp:
		return "give_up"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Exit describes the run that just ended.
type Exit struct {
	StartedAt time.Time
	ExitedAt  time.Time
	ExitCode  int
	// FastFailures is the consecutive fast-failure count before this exit.
	FastFailures int
	// SpawnFailed marks an attempt that never produced a child. It always
	// counts as a fast failure.
	SpawnFailed bool
}

// Uptime reports how long the run lasted. Clock skew never yields a negative
// uptime.
func (e Exit) Uptime() time.Duration {
	if e.StartedAt.IsZero() || e.ExitedAt.Before(e.StartedAt) {
		return 0
	}
	return e.ExitedAt.Sub(e.StartedAt)
}

// Verdict is the evaluator's decision together with the updated counter.
type Verdict struct {
	Kind         Kind
	Delay        time.Duration
	FastFailures int
	FastFailure  bool
}

func (v Verdict) String() string {
	if v.Kind == RestartAfter {
		return fmt.Sprintf("%s(%s)", v.Kind, v.Delay)
	}
	return v.Kind.String()
}

// Evaluate applies the restart policy to an exit.
func Evaluate(p spec.RestartPolicy, exit Exit) Verdict {
	if !p.AutoRestart {
		return Verdict{Kind: Stop, FastFailures: exit.FastFailures}
	}
	if !exit.SpawnFailed {
		for _, code := range p.StopExitCodes {
			if code == exit.ExitCode {
				return Verdict{Kind: Stop, FastFailures: exit.FastFailures}
			}
		}
	}

	if !exit.SpawnFailed && exit.Uptime() >= p.MinUptime {
		return restartVerdict(p, 0, false)
	}

	failures := exit.FastFailures + 1
	if failures > p.MaxRestarts {
		return Verdict{Kind: GiveUp, FastFailures: failures, FastFailure: true}
	}
	return restartVerdict(p, failures, true)
}

func restartVerdict(p spec.RestartPolicy, failures int, fast bool) Verdict {
	if p.RestartDelay <= 0 {
		return Verdict{Kind: Restart, FastFailures: failures, FastFailure: fast}
	}
	return Verdict{Kind: RestartAfter, Delay: p.RestartDelay, FastFailures: failures, FastFailure: fast}
}
