package reduce

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/docdistill/internal/summarize"
)

// DefaultSlackFactor tolerates batches up to 20% over the ideal size before
// the size rule forces a split.
const DefaultSlackFactor = 1.2

// DefaultMinFillFactor is the fraction of the ideal batch size a batch must
// reach before a topic change alone is allowed to close it.
const DefaultMinFillFactor = 0.5

// FinalUnitTitle names the single unit produced by the terminal collapse.
const FinalUnitTitle = "final_optimized_summary"

// Phase identifies how far the escalation progressed before stopping.
type Phase int

const (
	// PhasePacked means no reduction round ran; the input already fit or the
	// run was aborted before the first round.
	PhasePacked Phase = iota
	// PhaseReduced means one aggressive batch round ran.
	PhaseReduced
	// PhaseCollapsed means the terminal extreme round ran, leaving one unit.
	PhaseCollapsed
)

func (p Phase) String() string {
	switch p {
	case PhaseReduced:
		return "reduced"
	case PhaseCollapsed:
		return "collapsed"
	default:
		return "packed"
	}
}

// Status reports the outcome of a reduction run. MetTarget false is a soft
// signal that the budget could not be reached within the escalation ceiling,
// never an error.
type Status struct {
	Phase        Phase
	TotalTokens  int
	TargetTokens int
	MetTarget    bool
}

// Reducer collapses a set of summaries under TargetTokens by re-summarizing
// topic-coherent batches at rising compression stages. Escalation is capped:
// one aggressive batch round, then at most one extreme collapse into a single
// unit, after which whatever was achieved is returned as-is.
type Reducer struct {
	Driver       *summarize.Driver
	TargetTokens int
	// SlackFactor defaults to DefaultSlackFactor when zero.
	SlackFactor float64
	// MinFillFactor defaults to DefaultMinFillFactor when zero.
	MinFillFactor float64
	// SameTopic reports whether two consecutive titles share a topic.
	// Defaults to FirstWordTopic.
	SameTopic func(prev, next string) bool
}

// Reduce drives the escalation state machine. The input units are never
// mutated; each round replaces the working set with its re-summarized
// successors. Cancellation is honored between rounds only, so an in-flight
// round always finishes or fails on its own. When a round produces nothing
// (every call failed), the previous round's units are returned so the caller
// always keeps a non-empty result if one existed.
func (r *Reducer) Reduce(ctx context.Context, units []summarize.Unit) ([]summarize.Unit, Status) {
	target := r.TargetTokens
	total := summarize.TotalTokens(units)
	status := Status{Phase: PhasePacked, TotalTokens: total, TargetTokens: target, MetTarget: total <= target}
	if len(units) == 0 || status.MetTarget {
		return units, status
	}
	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Msg("reduction aborted before first round")
		return units, status
	}

	log.Info().Int("total_tokens", total).Int("target_tokens", target).Int("units", len(units)).Msg("reducing summaries")

	// Aggressive round: re-summarize topic-coherent batches.
	batches := r.group(units)
	tasks := make([]summarize.Task, len(batches))
	for i, b := range batches {
		tasks[i] = summarize.Task{
			Title: fmt.Sprintf("optimized_batch_%d", i+1),
			Text:  joinUnits(b),
		}
	}
	reduced, _ := r.Driver.Run(ctx, tasks, summarize.StageAggressive)
	if len(reduced) == 0 {
		log.Warn().Int("batches", len(batches)).Msg("aggressive round produced nothing, keeping previous units")
		status.MetTarget = false
		return units, status
	}
	units = reduced
	status.Phase = PhaseReduced
	status.TotalTokens = summarize.TotalTokens(units)
	status.MetTarget = status.TotalTokens <= target
	if status.MetTarget {
		return units, status
	}
	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Msg("reduction aborted before extreme round")
		return units, status
	}

	// Extreme round: terminal collapse of everything into one unit. By now
	// the unit count is small enough that topic-aware batching adds nothing.
	final, _ := r.Driver.Run(ctx, []summarize.Task{{
		Title: FinalUnitTitle,
		Text:  joinUnits(units),
	}}, summarize.StageExtreme)
	if len(final) == 0 {
		log.Warn().Msg("extreme round produced nothing, keeping previous units")
		return units, status
	}
	units = final
	status.Phase = PhaseCollapsed
	status.TotalTokens = summarize.TotalTokens(units)
	status.MetTarget = status.TotalTokens <= target
	if !status.MetTarget {
		log.Warn().Int("total_tokens", status.TotalTokens).Int("target_tokens", target).Msg("budget not met after escalation ceiling")
	}
	return units, status
}

// group partitions units into batches for one aggressive round. Units are
// walked largest first so big items are placed before they become
// unplaceable. A batch closes when the next unit would push it past the
// ideal size times the slack factor, or when the topic changes and the batch
// already holds at least the minimum fill. Batch count aims for
// ceil(total/target) so each batch lands near the per-call budget.
func (r *Reducer) group(units []summarize.Unit) [][]summarize.Unit {
	sorted := make([]summarize.Unit, len(units))
	copy(sorted, units)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TokenCount > sorted[j].TokenCount })

	total := summarize.TotalTokens(sorted)
	target := r.TargetTokens
	numBatches := 0
	if target > 0 {
		numBatches = (total + target - 1) / target
	}
	divisor := numBatches
	if divisor == 0 {
		divisor = target
	}
	ideal := 0
	if divisor > 0 {
		ideal = total / divisor
	}

	slack := r.SlackFactor
	if slack <= 0 {
		slack = DefaultSlackFactor
	}
	minFill := r.MinFillFactor
	if minFill <= 0 {
		minFill = DefaultMinFillFactor
	}
	maxBatch := int(float64(ideal) * slack)
	minClose := int(float64(ideal) * minFill)

	sameTopic := r.SameTopic
	if sameTopic == nil {
		sameTopic = FirstWordTopic
	}

	var batches [][]summarize.Unit
	var cur []summarize.Unit
	curTokens := 0
	for i, u := range sorted {
		if len(cur) > 0 {
			switch {
			case curTokens+u.TokenCount > maxBatch:
				batches = append(batches, cur)
				cur = nil
				curTokens = 0
			case !sameTopic(sorted[i-1].Title, u.Title) && curTokens >= minClose:
				batches = append(batches, cur)
				cur = nil
				curTokens = 0
			}
		}
		cur = append(cur, u)
		curTokens += u.TokenCount
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// joinUnits renders units as titled blocks separated by a horizontal rule,
// the combined text fed to one re-summarization call.
func joinUnits(units []summarize.Unit) string {
	parts := make([]string, len(units))
	for i, u := range units {
		parts[i] = "# " + u.Title + "\n" + u.Content
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// FirstWordTopic approximates topic identity by comparing the first
// whitespace-delimited token of each title, ignoring case. Deliberately
// crude; swap in a smarter similarity via Reducer.SameTopic without touching
// the batching control flow.
func FirstWordTopic(prev, next string) bool {
	return strings.EqualFold(firstWord(prev), firstWord(next))
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
