package summarize

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/docdistill/internal/token"
)

// DefaultConcurrency bounds in-flight summarization calls. Kept small to
// respect external rate limits.
const DefaultConcurrency = 2

// Task is one independent summarization request. OutputPath, when set, names
// the storage key assigned to the result before dispatch so no two concurrent
// tasks ever share a write target.
type Task struct {
	Title      string
	Text       string
	OutputPath string
}

// Unit is a completed summary. TokenCount is measured from Content with the
// run's counter once, when the call completes; the unit is owned exclusively
// by the task that produced it.
type Unit struct {
	Title      string
	Content    string
	OutputPath string
	TokenCount int
}

// TotalTokens sums the token counts of units.
func TotalTokens(units []Unit) int {
	total := 0
	for _, u := range units {
		total += u.TokenCount
	}
	return total
}

// Report counts driver outcomes for observability. Attempted is the number
// of tasks submitted, Succeeded the number that produced a unit.
type Report struct {
	Succeeded int
	Attempted int
}

// Backend is the external capability the driver schedules.
type Backend interface {
	Summarize(ctx context.Context, text string, stage Stage) (string, error)
}

// Driver fans tasks out to the backend under a bounded-concurrency policy.
type Driver struct {
	Backend Backend
	Counter token.Counter
	// Concurrency defaults to DefaultConcurrency when <= 0.
	Concurrency int
	// CallTimeout bounds each individual call. Zero means no per-call
	// deadline beyond whatever ctx carries.
	CallTimeout time.Duration
}

// errEmptyOutput marks a backend call that returned nil error but no usable
// text. Such a call must not become a kept unit.
var errEmptyOutput = errors.New("backend returned empty output")

type taskResult struct {
	idx  int
	unit Unit
	err  error
}

// Run summarizes every task at the given stage. At most Concurrency calls
// are in flight at once. Each result is paired with its task by index, never
// by completion order. A call that errors, times out, or yields empty text is
// a soft failure: it is logged and its unit is dropped. The returned units
// keep task submission order with failures omitted.
func (d *Driver) Run(ctx context.Context, tasks []Task, stage Stage) ([]Unit, Report) {
	report := Report{Attempted: len(tasks)}
	if len(tasks) == 0 {
		return nil, report
	}

	limit := d.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	sem := make(chan struct{}, limit)
	results := make(chan taskResult, len(tasks))

	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(idx int, t Task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			callCtx := ctx
			if d.CallTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, d.CallTimeout)
				defer cancel()
			}
			out, err := d.Backend.Summarize(callCtx, t.Text, stage)
			if err != nil {
				results <- taskResult{idx: idx, err: err}
				return
			}
			if strings.TrimSpace(out) == "" {
				results <- taskResult{idx: idx, err: errEmptyOutput}
				return
			}
			results <- taskResult{idx: idx, unit: Unit{
				Title:      t.Title,
				Content:    out,
				OutputPath: t.OutputPath,
				TokenCount: d.Counter.Count(out),
			}}
		}(i, t)
	}
	wg.Wait()
	close(results)

	units := make([]Unit, len(tasks))
	done := make([]bool, len(tasks))
	for r := range results {
		if r.err != nil {
			log.Warn().Err(r.err).Str("task", tasks[r.idx].Title).Str("stage", string(stage)).Msg("summarize failed")
			continue
		}
		units[r.idx] = r.unit
		done[r.idx] = true
	}

	out := make([]Unit, 0, len(tasks))
	for i := range tasks {
		if done[i] {
			out = append(out, units[i])
		}
	}
	report.Succeeded = len(out)
	log.Info().Int("succeeded", report.Succeeded).Int("attempted", report.Attempted).Str("stage", string(stage)).Msg("summarization round complete")
	return out, report
}
