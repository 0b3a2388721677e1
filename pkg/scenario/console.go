package scenario

import (
	"fmt"
	"sort"
	"time"

	"github.com/pterm/pterm"
)

// Console provides styled console output for scenario runs.
type Console struct{}

// NewConsole creates a new console output handler.
func NewConsole() *Console {
	return &Console{}
}

// PrintHeader prints the scenario header.
func (c *Console) PrintHeader(s *Scenario) {
	pterm.DefaultHeader.WithBackgroundStyle(pterm.NewStyle(pterm.BgDarkGray)).
		WithTextStyle(pterm.NewStyle(pterm.FgLightCyan, pterm.Bold)).
		Println("SCENARIO: " + s.Name)

	fmt.Println()

	configPanel := pterm.DefaultBox.WithTitle("Configuration").WithTitleTopCenter()
	configContent := fmt.Sprintf(
		"Routines: %d\nCommands: %d\nAssertions: %d",
		len(s.Routines), len(s.Commands), len(s.Assertions),
	)
	if s.Description != "" {
		configContent = s.Description + "\n\n" + configContent
	}
	configPanel.Println(configContent)
	fmt.Println()
}

// PrintResults prints the run summary, firings per label, and assertion
// outcomes.
func (c *Console) PrintResults(r *Report) {
	pterm.DefaultHeader.WithBackgroundStyle(pterm.NewStyle(pterm.BgDarkGray)).
		WithTextStyle(pterm.NewStyle(pterm.FgLightGreen, pterm.Bold)).
		Println("SCENARIO RESULTS")

	fmt.Println()

	pterm.Info.Printfln("Run %s finished in %s (%s)", r.RunID, r.Wall, r.StopReason)
	fmt.Println()

	summary := pterm.TableData{
		{"Metric", "Value"},
		{"Invocations", fmt.Sprintf("%d", len(r.Invocations))},
		{"Ticks", fmt.Sprintf("%d", r.Ticks)},
		{"Scheduler Time", r.Time.Round(time.Millisecond).String()},
		{"Wakes", fmt.Sprintf("%d", r.Wakes)},
		{"Alarm Requests", fmt.Sprintf("%d", len(r.AlarmRequests))},
		{"Dormant", fmt.Sprintf("%v", r.Dormant)},
	}
	pterm.DefaultSection.Println("Run")
	pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(summary).Render()
	fmt.Println()

	if len(r.Firings) > 0 {
		counts := make(map[string]int)
		last := make(map[string]time.Duration)
		for _, f := range r.Firings {
			counts[f.Label]++
			last[f.Label] = f.Time
		}
		labels := make([]string, 0, len(counts))
		for l := range counts {
			labels = append(labels, l)
		}
		sort.Strings(labels)

		firingData := pterm.TableData{{"Label", "Count", "Last"}}
		for _, l := range labels {
			firingData = append(firingData, []string{
				l,
				fmt.Sprintf("%d", counts[l]),
				last[l].Round(time.Millisecond).String(),
			})
		}
		pterm.DefaultSection.Println("Firings")
		pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(firingData).Render()
		fmt.Println()
	}

	if len(r.Assertions) > 0 {
		assertData := pterm.TableData{{"Assertion", "Result", "Expression"}}
		for _, a := range r.Assertions {
			result := pterm.Green("PASS")
			if !a.Passed {
				result = pterm.Red("FAIL")
				if a.Error != "" {
					result += " " + a.Error
				}
			}
			assertData = append(assertData, []string{a.Name, result, a.Expr})
		}
		pterm.DefaultSection.Println("Assertions")
		pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(assertData).Render()
		fmt.Println()
	}

	switch {
	case r.Error != "":
		pterm.Error.Println(r.Error)
	case r.Passed():
		pterm.Success.Println("All assertions passed")
	default:
		pterm.Error.Printfln("%d assertion(s) failed", len(r.Failed()))
	}
}
