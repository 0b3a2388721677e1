package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/NavarchProject/eventdriver/pkg/host"
	"github.com/NavarchProject/eventdriver/pkg/scheduler"
)

func run(t *testing.T, yaml string, opts ...RunnerOption) *Report {
	t.Helper()
	s, err := ParseScenario([]byte(yaml))
	if err != nil {
		t.Fatalf("ParseScenario() error = %v", err)
	}
	report, err := NewRunner(s, opts...).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !report.Passed() {
		t.Fatalf("report did not pass: %+v", report.Assertions)
	}
	return report
}

const fastHost = `
host:
  granularity: 100ms
  horizon: 30s
  alarms:
    - name: clock
      min_delay: 100ms
`

func TestRunner_Periodic(t *testing.T) {
	report := run(t, `
name: kicker
`+fastHost+`
routines:
  - name: kick
    type: periodic
    interval: 1s
    runs: 3
    start: true
assertions:
  - name: three runs a second apart
    expr: fired["kick"] == [0.0, 1.0, 2.0]
  - name: one invocation per run
    expr: invocations == 3
  - name: alarm asked for the interval
    expr: alarm_delays == [1.0, 1.0]
  - name: idle at the end
    expr: dormant && stop_reason == "dormant"
`)

	if report.RunID == "" {
		t.Error("RunID is empty")
	}
	if got := report.FiringsOf("kick"); len(got) != 3 {
		t.Errorf("FiringsOf(kick) = %v, want 3 firings", got)
	}
}

func TestRunner_Sequence(t *testing.T) {
	run(t, `
name: door
`+fastHost+`
routines:
  - name: door
    type: sequence
    start: true
    steps:
      - name: close
        delay: 2s
      - name: pump
        ticks: 3
      - name: open
assertions:
  - expr: fired["door.close"] == [2.0]
  - expr: fired_ticks["door.pump"] == [5]
  - expr: fired_ticks["door.open"] == fired_ticks["door.pump"]
  - expr: size(fired["door.done"]) == 1
  - expr: invocations == 5
`)
}

func TestRunner_Retry(t *testing.T) {
	run(t, `
name: link
`+fastHost+`
routines:
  - name: link
    type: retry
    start: true
    interval: 1s
    multiplier: 2
    max_attempts: 5
    fail_times: 2
assertions:
  - expr: fired["link"] == [0.0, 1.0, 3.0]
  - expr: size(fired["link.done"]) == 1
`)
}

func TestRunner_RetryJitterFollowsSeed(t *testing.T) {
	const jittered = `
name: link
` + fastHost + `
routines:
  - name: link
    type: retry
    start: true
    interval: 1s
    multiplier: 1
    jitter: 0.5
    max_attempts: 4
    fail_times: 3
`
	first := run(t, jittered, WithSeed(11)).FiringsOf("link")
	second := run(t, jittered, WithSeed(11)).FiringsOf("link")

	if len(first) != 4 || len(second) != 4 {
		t.Fatalf("attempts = %v and %v, want 4 each", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("attempt %d at %v and %v, want identical runs", i, first[i], second[i])
		}
	}
}

func TestRunner_RetryGivesUp(t *testing.T) {
	run(t, `
name: link
`+fastHost+`
routines:
  - name: link
    type: retry
    start: true
    interval: 1s
    max_attempts: 2
    fail_times: 5
assertions:
  - expr: size(fired["link"]) == 2
  - expr: size(fired["link.done"]) == 0
`)
}

func TestRunner_Commands(t *testing.T) {
	run(t, `
name: commands
`+fastHost+`
commands:
  - at: 1s
    do: schedule beep 1.5
  - at: 4s
    do: wake
assertions:
  - expr: fired["beep"] == [2.5]
  - expr: wakes == 1
  - expr: invocations == 4
`)
}

func TestRunner_StopCommand(t *testing.T) {
	run(t, `
name: stop
`+fastHost+`
routines:
  - name: tick
    type: periodic
    interval: 1s
    start: true
commands:
  - at: 2500ms
    do: stop tick
assertions:
  - expr: size(fired["tick"]) == 3
  - expr: invocations == 5
  - expr: dormant
`)
}

func TestRunner_StartCommand(t *testing.T) {
	run(t, `
name: late start
`+fastHost+`
routines:
  - name: poll
    type: periodic
    ticks: 2
    runs: 2
commands:
  - at: 1s
    do: start poll
assertions:
  - expr: fired_ticks["poll"] == [2, 4]
`)
}

func TestRunner_ScheduleTicksCommand(t *testing.T) {
	run(t, `
name: ticks
`+fastHost+`
commands:
  - at: 0s
    do: schedule_ticks t 2
assertions:
  - expr: fired_ticks["t"] == [3]
  - expr: invocations == 3
`)
}

func TestRunner_FrequencyRearm(t *testing.T) {
	run(t, `
name: polling
`+fastHost+`
process:
  rearm: frequency
commands:
  - at: 0s
    do: schedule x 0.5
assertions:
  - expr: fired["x"] == [0.5]
  - expr: invocations == 6
`)
}

func TestRunner_Horizon(t *testing.T) {
	run(t, `
name: forever
host:
  granularity: 100ms
  horizon: 5s
  alarms:
    - name: clock
      min_delay: 100ms
routines:
  - name: kick
    type: periodic
    interval: 1s
    start: true
assertions:
  - expr: stop_reason == "horizon"
  - expr: size(fired["kick"]) == 6
  - expr: "!dormant"
`)
}

func TestRunner_AlarmGroup(t *testing.T) {
	report := run(t, `
name: group
host:
  granularity: 100ms
  alarms:
    - name: fast
      group: timers
      min_delay: 100ms
    - name: slow
      group: timers
      min_delay: 2s
process:
  alarm_group: timers
commands:
  - at: 0s
    do: schedule x 0.5
assertions:
  - expr: fired["x"] == [0.5]
  - expr: alarm_delays == [0.5, 2.0]
`)

	// The slow alarm still fires at 2s after x ran at 0.5s.
	if last := report.Invocations[len(report.Invocations)-1]; last.At != 2*time.Second {
		t.Errorf("last invocation at %v, want 2s", last.At)
	}
}

func TestRunner_NoAlarmResolved(t *testing.T) {
	report := run(t, `
name: unarmed
process:
  alarm_name: missing
commands:
  - at: 0s
    do: schedule x 1
assertions:
  - expr: size(fired["x"]) == 0
  - expr: invocations == 1
  - expr: "!dormant"
`)

	if report.StopReason != string(host.StopDormant) {
		t.Errorf("StopReason = %q, want host dormant", report.StopReason)
	}
}

func TestRunner_AssertionFailure(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong
assertions:
  - name: impossible
    expr: invocations == 99
  - name: fine
    expr: invocations == 1
`))
	if err != nil {
		t.Fatal(err)
	}

	report, err := NewRunner(s).Run(context.Background())
	if !errors.Is(err, ErrAssertionFailed) {
		t.Fatalf("Run() error = %v, want %v", err, ErrAssertionFailed)
	}
	if report.Passed() {
		t.Error("Passed() = true, want false")
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0].Name != "impossible" {
		t.Errorf("Failed() = %+v, want [impossible]", failed)
	}
}

func TestRunner_CompileError(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: broken
assertions:
  - expr: invocations +
`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewRunner(s).Run(context.Background()); err == nil {
		t.Error("Run() error = nil, want compile error")
	}
}

func TestRunner_JitterIsDeterministic(t *testing.T) {
	yaml := `
name: jitter
host:
  granularity: 100ms
  jitter: 300ms
  alarms:
    - name: clock
      min_delay: 100ms
routines:
  - name: kick
    type: periodic
    interval: 1s
    runs: 5
    start: true
assertions:
  - expr: size(fired["kick"]) == 5
`
	a := run(t, yaml, WithSeed(7))
	b := run(t, yaml, WithSeed(7))

	if !reflect.DeepEqual(a.Invocations, b.Invocations) {
		t.Error("same seed produced different invocation traces")
	}
	if a.Seed != 7 {
		t.Errorf("Seed = %d, want 7", a.Seed)
	}
}

func TestRunner_Metrics(t *testing.T) {
	m := scheduler.NewMetrics()
	run(t, `
name: metered
`+fastHost+`
routines:
  - name: kick
    type: periodic
    interval: 1s
    runs: 2
    start: true
assertions:
  - expr: invocations == 2
`, WithMetrics(m))

	if got := testutil.CollectAndCount(m, "eventdriver_drives_total"); got != 1 {
		t.Errorf("drives series = %d, want 1", got)
	}
}

func TestRunner_Realtime(t *testing.T) {
	if testing.Short() {
		t.Skip("runs against wall-clock time")
	}
	report := run(t, `
name: realtime
host:
  granularity: 1ms
  horizon: 300ms
  alarms:
    - name: clock
      min_delay: 1ms
routines:
  - name: kick
    type: periodic
    interval: 50ms
    runs: 2
    start: true
assertions:
  - expr: size(fired["kick"]) == 2
  - expr: fired["kick"][1] >= 0.05
`, WithRealtime(nil))

	if report.StopReason != string(host.StopHorizon) {
		t.Errorf("StopReason = %q, want %q", report.StopReason, host.StopHorizon)
	}
}

func TestReport_WriteJSON(t *testing.T) {
	report := run(t, `
name: json
`+fastHost+`
commands:
  - at: 1s
    do: schedule beep 1
assertions:
  - expr: size(fired["beep"]) == 1
`)

	path := filepath.Join(t.TempDir(), "report.json")
	if err := report.WriteJSON(path); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if decoded["run_id"] != report.RunID {
		t.Errorf("run_id = %v, want %s", decoded["run_id"], report.RunID)
	}
	if firings, ok := decoded["firings"].([]any); !ok || len(firings) != 1 {
		t.Errorf("firings = %v, want one entry", decoded["firings"])
	}
}
