package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Paintersrp/procsup/internal/spec"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func ecosystemPolicy() spec.RestartPolicy {
	return spec.RestartPolicy{
		AutoRestart:  true,
		MaxRestarts:  10,
		MinUptime:    10 * time.Second,
		RestartDelay: 4000 * time.Millisecond,
	}
}

func exitAfter(d time.Duration, failures int) Exit {
	return Exit{StartedAt: epoch, ExitedAt: epoch.Add(d), FastFailures: failures}
}

func TestEvaluateAutorestartDisabled(t *testing.T) {
	p := ecosystemPolicy()
	p.AutoRestart = false

	v := Evaluate(p, exitAfter(time.Millisecond, 3))
	require.Equal(t, Stop, v.Kind)
	require.Equal(t, 3, v.FastFailures)
}

func TestEvaluateSustainedUptimeResetsCounter(t *testing.T) {
	v := Evaluate(ecosystemPolicy(), exitAfter(10*time.Second, 7))
	require.Equal(t, RestartAfter, v.Kind)
	require.Equal(t, 4*time.Second, v.Delay)
	require.Zero(t, v.FastFailures)
	require.False(t, v.FastFailure)
}

func TestEvaluateFastFailureIncrements(t *testing.T) {
	v := Evaluate(ecosystemPolicy(), exitAfter(2*time.Second, 0))
	require.Equal(t, RestartAfter, v.Kind)
	require.Equal(t, 1, v.FastFailures)
	require.True(t, v.FastFailure)
}

func TestEvaluateGivesUpAfterMaxRestarts(t *testing.T) {
	p := ecosystemPolicy()
	failures := 0
	restarts := 0
	var v Verdict
	for i := 0; i < 11; i++ {
		v = Evaluate(p, exitAfter(2*time.Second, failures))
		failures = v.FastFailures
		if v.Kind == RestartAfter {
			restarts++
		}
	}
	require.Equal(t, GiveUp, v.Kind)
	require.Equal(t, 10, restarts)
	require.Equal(t, 11, failures)
}

func TestEvaluateZeroMaxRestartsGivesUpImmediately(t *testing.T) {
	p := ecosystemPolicy()
	p.MaxRestarts = 0
	require.Equal(t, GiveUp, Evaluate(p, exitAfter(time.Second, 0)).Kind)
}

func TestEvaluateZeroDelayRestartsImmediately(t *testing.T) {
	p := ecosystemPolicy()
	p.RestartDelay = 0
	v := Evaluate(p, exitAfter(time.Minute, 0))
	require.Equal(t, Restart, v.Kind)
	require.Zero(t, v.Delay)
}

func TestEvaluateStopExitCodes(t *testing.T) {
	p := ecosystemPolicy()
	p.StopExitCodes = []int{0, 42}
	e := exitAfter(time.Millisecond, 0)
	e.ExitCode = 42
	require.Equal(t, Stop, Evaluate(p, e).Kind)

	e.ExitCode = 1
	require.Equal(t, RestartAfter, Evaluate(p, e).Kind)
}

func TestEvaluateSpawnFailureCountsAsFast(t *testing.T) {
	v := Evaluate(ecosystemPolicy(), Exit{ExitedAt: epoch, ExitCode: -1, SpawnFailed: true})
	require.True(t, v.FastFailure)
	require.Equal(t, 1, v.FastFailures)
}

func TestEvaluateSpawnFailureWithZeroMinUptime(t *testing.T) {
	p := ecosystemPolicy()
	p.MinUptime = 0
	p.RestartDelay = 0
	p.MaxRestarts = 2
	p.StopExitCodes = []int{-1}

	failures := 0
	var v Verdict
	for i := 0; i < 3; i++ {
		v = Evaluate(p, Exit{ExitedAt: epoch, ExitCode: -1, FastFailures: failures, SpawnFailed: true})
		failures = v.FastFailures
	}
	require.Equal(t, GiveUp, v.Kind)
	require.Equal(t, 3, v.FastFailures)

	// A child that ran and exited at once is a sustained run under a zero
	// threshold.
	v = Evaluate(p, exitAfter(0, 2))
	require.Equal(t, Restart, v.Kind)
	require.Zero(t, v.FastFailures)
}

func TestVerdictString(t *testing.T) {
	require.Equal(t, "restart_after(4s)", Verdict{Kind: RestartAfter, Delay: 4 * time.Second}.String())
	require.Equal(t, "give_up", Verdict{Kind: GiveUp}.String())
}
