// ABOUTME: Funnel metrics accumulator and the derived read-only MetricsView
// ABOUTME: Ratios are computed on snapshot and are zero for empty denominators

package conversation

import (
	"maps"
	"sync"
	"time"
)

// MetricsView is a point-in-time summary of funnel activity.
type MetricsView struct {
	TotalConversations     int64             `json:"total_conversations"`
	ActiveConversations    int               `json:"active_conversations"`
	CompletedConversations int64             `json:"completed_conversations"`
	ClosedSales            int64             `json:"closed_sales"`
	EvictedConversations   int64             `json:"evicted_conversations"`
	SalesConversionRate    float64           `json:"sales_conversion_rate"`
	AbandonmentRate        float64           `json:"abandonment_rate"`
	ConversationsByStage   map[Stage]int64   `json:"conversations_by_stage"`
	ConversionByStage      map[Stage]int64   `json:"conversion_by_stage"`
	ConversionRates        map[Stage]float64 `json:"conversion_rates_by_stage"`
	StageTransitions       map[string]int64  `json:"stage_transitions"`
	HandlerUsage           map[string]int64  `json:"agents_usage"`
	AverageTimeByStage     map[Stage]float64 `json:"average_time_by_stage"`
	AbandonmentPoints      map[Stage]int64   `json:"abandonment_points"`
}

// TransitionKey formats the counter key for a stage change.
func TransitionKey(from, to Stage) string {
	return string(from) + "->" + string(to)
}

// accumulator holds the raw counters. All methods are safe for concurrent use.
type accumulator struct {
	mu                sync.Mutex
	total             int64
	completed         int64
	closedSales       int64
	evicted           int64
	byStage           map[Stage]int64
	conversionByStage map[Stage]int64
	transitions       map[string]int64
	handlerUsage      map[string]int64
	timeInStage       map[Stage]stageTime
	abandonment       map[Stage]int64
}

// stageTime is the running total of measured time spent in one stage.
type stageTime struct {
	total time.Duration
	count int64
}

func newAccumulator() *accumulator {
	return &accumulator{
		byStage:           make(map[Stage]int64),
		conversionByStage: make(map[Stage]int64),
		transitions:       make(map[string]int64),
		handlerUsage:      make(map[string]int64),
		timeInStage:       make(map[Stage]stageTime),
		abandonment:       make(map[Stage]int64),
	}
}

func (a *accumulator) conversationStarted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total++
	a.byStage[StageIntake]++
}

func (a *accumulator) stageChanged(from, to Stage, inFrom time.Duration, measured bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transitions[TransitionKey(from, to)]++
	if measured {
		st := a.timeInStage[from]
		st.total += inFrom
		st.count++
		a.timeInStage[from] = st
	}
	a.byStage[to]++
	a.conversionByStage[to]++
}

func (a *accumulator) handlersUsed(handlers []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, h := range handlers {
		a.handlerUsage[h]++
	}
}

func (a *accumulator) saleClosed() {
	a.mu.Lock()
	a.closedSales++
	a.mu.Unlock()
}

func (a *accumulator) conversationCompleted() {
	a.mu.Lock()
	a.completed++
	a.mu.Unlock()
}

// conversationEvicted records an eviction and, for conversations that
// neither completed nor closed a sale, the stage they were abandoned at.
func (a *accumulator) conversationEvicted(stage Stage, abandoned bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.evicted++
	if abandoned {
		a.abandonment[stage]++
	}
}

func (a *accumulator) snapshot(active int) MetricsView {
	a.mu.Lock()
	defer a.mu.Unlock()

	v := MetricsView{
		TotalConversations:     a.total,
		ActiveConversations:    active,
		CompletedConversations: a.completed,
		ClosedSales:            a.closedSales,
		EvictedConversations:   a.evicted,
		ConversationsByStage:   maps.Clone(a.byStage),
		ConversionByStage:      maps.Clone(a.conversionByStage),
		ConversionRates:        make(map[Stage]float64, len(a.conversionByStage)),
		StageTransitions:       maps.Clone(a.transitions),
		HandlerUsage:           maps.Clone(a.handlerUsage),
		AverageTimeByStage:     make(map[Stage]float64, len(a.timeInStage)),
		AbandonmentPoints:      maps.Clone(a.abandonment),
	}

	v.SalesConversionRate = percent(a.closedSales, a.total)
	v.AbandonmentRate = percent(a.total-a.completed, a.total)
	for stage, n := range a.conversionByStage {
		v.ConversionRates[stage] = percent(n, a.total)
	}
	for stage, st := range a.timeInStage {
		if st.count == 0 {
			continue
		}
		v.AverageTimeByStage[stage] = (st.total / time.Duration(st.count)).Seconds()
	}
	return v
}

func percent(n, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
