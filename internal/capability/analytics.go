// ABOUTME: Analytics provider: stage conversion metrics, funnel analytics, and event tracking.
// ABOUTME: Keeps tracked events in memory and derives stage entries/exits from them.

package capability

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

var funnelStages = []string{"intake", "qualification", "presentation", "negotiation", "closing", "completed"}

type analytics struct {
	mu     sync.Mutex
	events []map[string]any
}

// NewAnalytics builds the analytics provider.
func NewAnalytics(opts Options) Provider {
	a := &analytics{}
	a.seed()
	return newTableProvider("analytics", opts, DefaultLatency,
		&Operation{
			Spec: OperationSpec{
				Name:        "get_conversion_metrics",
				Description: "Conversion metrics for one stage or all stages",
				Params: []ParamSpec{
					param("stage", "string", false, "Funnel stage"),
					param("start_date", "string", false, "Period start (RFC3339)"),
					param("end_date", "string", false, "Period end (RFC3339)"),
				},
			},
			Handler: a.conversionMetrics,
		},
		&Operation{
			Spec: OperationSpec{
				Name:        "get_funnel_analytics",
				Description: "Per-stage entries, exits and conversion across the funnel",
				Params: []ParamSpec{
					param("start_date", "string", false, "Period start (RFC3339)"),
					param("end_date", "string", false, "Period end (RFC3339)"),
				},
			},
			Handler: a.funnel,
		},
		&Operation{
			Spec: OperationSpec{
				Name:        "track_event",
				Description: "Record a funnel event",
				Params: []ParamSpec{
					param("event_type", "string", true, "stage_entry, stage_exit or custom"),
					param("lead_id", "string", false, "Lead identifier"),
					param("stage", "string", false, "Funnel stage"),
					param("metadata", "object", false, "Event metadata"),
				},
			},
			Handler: a.track,
		},
	)
}

func (a *analytics) seed() {
	now := time.Now().UTC().Format(time.RFC3339)
	entries := map[string]int{"intake": 100, "qualification": 60, "presentation": 35, "negotiation": 20, "closing": 12, "completed": 10}
	for _, stage := range funnelStages {
		a.events = append(a.events, map[string]any{
			"id": "seed_" + stage, "event_type": "stage_entry", "stage": stage,
			"count": entries[stage], "timestamp": now,
		})
	}
}

// stageCounts returns entries per stage and exits (entries of the next stage).
func (a *analytics) stageCounts() (map[string]int, map[string]int) {
	entries := map[string]int{}
	for _, e := range a.events {
		if e["event_type"] != "stage_entry" {
			continue
		}
		stage, _ := e["stage"].(string)
		n, ok := e["count"].(int)
		if !ok {
			n = 1
		}
		entries[stage] += n
	}
	exits := map[string]int{}
	for i, stage := range funnelStages {
		if i+1 < len(funnelStages) {
			exits[stage] = entries[funnelStages[i+1]]
		}
	}
	return entries, exits
}

func rate(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return math.Round(float64(num)/float64(den)*10000) / 10000
}

func period(params map[string]any) map[string]any {
	start, end := stringParam(params, "start_date"), stringParam(params, "end_date")
	if start == "" {
		start = "all_time"
	}
	if end == "" {
		end = "now"
	}
	return map[string]any{"start": start, "end": end}
}

func (a *analytics) conversionMetrics(_ context.Context, params map[string]any) *Result {
	a.mu.Lock()
	entries, exits := a.stageCounts()
	a.mu.Unlock()

	stage := stringParam(params, "stage")
	var in, out int
	if stage == "" {
		stage = "all"
		in = entries[funnelStages[0]]
		out = entries["completed"]
	} else {
		in, out = entries[stage], exits[stage]
	}
	return OK(map[string]any{
		"stage":           stage,
		"total_entries":   in,
		"total_exits":     out,
		"conversion_rate": rate(out, in),
		"period":          period(params),
	})
}

func (a *analytics) funnel(_ context.Context, params map[string]any) *Result {
	a.mu.Lock()
	entries, exits := a.stageCounts()
	a.mu.Unlock()

	stages := make([]any, 0, len(funnelStages))
	for _, s := range funnelStages {
		stages = append(stages, map[string]any{
			"stage":           s,
			"entries":         entries[s],
			"exits":           exits[s],
			"conversion_rate": rate(exits[s], entries[s]),
		})
	}
	first, last := entries[funnelStages[0]], entries["completed"]
	return OK(map[string]any{
		"funnel": stages,
		"overall": map[string]any{
			"total_entries":   first,
			"total_exits":     last,
			"conversion_rate": rate(last, first),
		},
		"period": period(params),
	})
}

func (a *analytics) track(_ context.Context, params map[string]any) *Result {
	event := map[string]any{
		"id":         uuid.New().String(),
		"event_type": stringParam(params, "event_type"),
		"lead_id":    stringParam(params, "lead_id"),
		"stage":      stringParam(params, "stage"),
		"metadata":   mapParam(params, "metadata"),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}

	a.mu.Lock()
	a.events = append(a.events, event)
	a.mu.Unlock()

	return OK(map[string]any{"event_id": event["id"], "timestamp": event["timestamp"]})
}
