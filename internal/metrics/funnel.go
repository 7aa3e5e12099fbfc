// ABOUTME: Scrape-time collectors for conversation funnel metrics and result cache stats
// ABOUTME: Values are read from snapshots so the tracker keeps a single source of truth

package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/2389/funnel-gateway/internal/cache"
	"github.com/2389/funnel-gateway/internal/conversation"
)

// FunnelSource provides funnel snapshots.
type FunnelSource interface {
	SnapshotMetrics() conversation.MetricsView
}

// CacheSource provides result cache statistics.
type CacheSource interface {
	CacheStats() cache.Stats
}

var (
	conversationsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "conversations", "total"),
		"Conversations started", nil, nil)
	activeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "conversations", "active"),
		"Conversations currently retained", nil, nil)
	completedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "conversations", "completed_total"),
		"Conversations that reached the completed stage", nil, nil)
	evictedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "conversations", "evicted_total"),
		"Conversations dropped by size or idle limits", nil, nil)
	closedSalesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "sales", "closed_total"),
		"Sales closed by the closing handler", nil, nil)
	salesRateDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "sales", "conversion_rate_percent"),
		"Closed sales as a percentage of conversations", nil, nil)
	abandonmentRateDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "conversations", "abandonment_rate_percent"),
		"Conversations not completed as a percentage of all conversations", nil, nil)
	stageEntriesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "stage", "entries_total"),
		"Conversations that entered each stage", []string{"stage"}, nil)
	stageTimeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "stage", "average_seconds"),
		"Average time spent in each stage before leaving it", []string{"stage"}, nil)
	transitionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "stage", "transitions_total"),
		"Stage transitions", []string{"from", "to"}, nil)
	handlerUsageDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "handler", "usage_total"),
		"Turns in which each handler appeared in the trace", []string{"handler"}, nil)
	abandonmentDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "stage", "abandoned_total"),
		"Evicted conversations by the stage they were abandoned at", []string{"stage"}, nil)
)

// FunnelCollector exports a FunnelSource at scrape time.
type FunnelCollector struct {
	source FunnelSource
}

// NewFunnelCollector creates a collector over source.
func NewFunnelCollector(source FunnelSource) *FunnelCollector {
	return &FunnelCollector{source: source}
}

func (c *FunnelCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		conversationsDesc, activeDesc, completedDesc, evictedDesc,
		closedSalesDesc, salesRateDesc, abandonmentRateDesc,
		stageEntriesDesc, stageTimeDesc, transitionsDesc,
		handlerUsageDesc, abandonmentDesc,
	} {
		ch <- d
	}
}

func (c *FunnelCollector) Collect(ch chan<- prometheus.Metric) {
	v := c.source.SnapshotMetrics()

	ch <- prometheus.MustNewConstMetric(conversationsDesc, prometheus.CounterValue, float64(v.TotalConversations))
	ch <- prometheus.MustNewConstMetric(activeDesc, prometheus.GaugeValue, float64(v.ActiveConversations))
	ch <- prometheus.MustNewConstMetric(completedDesc, prometheus.CounterValue, float64(v.CompletedConversations))
	ch <- prometheus.MustNewConstMetric(evictedDesc, prometheus.CounterValue, float64(v.EvictedConversations))
	ch <- prometheus.MustNewConstMetric(closedSalesDesc, prometheus.CounterValue, float64(v.ClosedSales))
	ch <- prometheus.MustNewConstMetric(salesRateDesc, prometheus.GaugeValue, v.SalesConversionRate)
	ch <- prometheus.MustNewConstMetric(abandonmentRateDesc, prometheus.GaugeValue, v.AbandonmentRate)

	for stage, n := range v.ConversationsByStage {
		ch <- prometheus.MustNewConstMetric(stageEntriesDesc, prometheus.CounterValue, float64(n), string(stage))
	}
	for stage, secs := range v.AverageTimeByStage {
		ch <- prometheus.MustNewConstMetric(stageTimeDesc, prometheus.GaugeValue, secs, string(stage))
	}
	for key, n := range v.StageTransitions {
		from, to := splitTransition(key)
		ch <- prometheus.MustNewConstMetric(transitionsDesc, prometheus.CounterValue, float64(n), from, to)
	}
	for handler, n := range v.HandlerUsage {
		ch <- prometheus.MustNewConstMetric(handlerUsageDesc, prometheus.CounterValue, float64(n), handler)
	}
	for stage, n := range v.AbandonmentPoints {
		ch <- prometheus.MustNewConstMetric(abandonmentDesc, prometheus.CounterValue, float64(n), string(stage))
	}
}

func splitTransition(key string) (string, string) {
	from, to, _ := strings.Cut(key, "->")
	return from, to
}

var (
	cacheEntriesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "entries"),
		"Entries in the result cache", nil, nil)
	cacheHitsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "hits_total"),
		"Result cache hits", nil, nil)
	cacheMissesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "misses_total"),
		"Result cache misses", nil, nil)
	cacheEvictionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "evictions_total"),
		"Result cache evictions", nil, nil)
)

// CacheCollector exports a CacheSource at scrape time.
type CacheCollector struct {
	source CacheSource
}

// NewCacheCollector creates a collector over source.
func NewCacheCollector(source CacheSource) *CacheCollector {
	return &CacheCollector{source: source}
}

func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cacheEntriesDesc
	ch <- cacheHitsDesc
	ch <- cacheMissesDesc
	ch <- cacheEvictionsDesc
}

func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.CacheStats()
	ch <- prometheus.MustNewConstMetric(cacheEntriesDesc, prometheus.GaugeValue, float64(s.Entries))
	ch <- prometheus.MustNewConstMetric(cacheHitsDesc, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(cacheMissesDesc, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(cacheEvictionsDesc, prometheus.CounterValue, float64(s.Evictions))
}
