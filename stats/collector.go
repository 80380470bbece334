// File: stats/collector.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Prometheus export of the statistics table.

package stats

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var _ prometheus.Collector = (*Collector)(nil)

// Collector exposes a Table as prometheus metrics. Values are read at
// scrape time, so the hot path never touches prometheus types.
type Collector struct {
	table *Table

	rxBufs    *prometheus.Desc
	rxBytes   *prometheus.Desc
	txBufs    *prometheus.Desc
	txBytes   *prometheus.Desc
	batches   *prometheus.Desc
	execCalls *prometheus.Desc
	drops     *prometheus.Desc
	custom    *prometheus.Desc
	gauges    *prometheus.Desc
	latency   *prometheus.Desc
}

// NewCollector creates a collector; constLabels are attached to every metric.
func NewCollector(t *Table, constLabels prometheus.Labels) *Collector {
	core := []string{"core"}
	named := []string{"core", "name"}
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("nf", "", name), help, labels, constLabels)
	}
	return &Collector{
		table:     t,
		rxBufs:    desc("rx_buffers_total", "Buffers dequeued by the core.", core),
		rxBytes:   desc("rx_bytes_total", "Bytes dequeued by the core.", core),
		txBufs:    desc("tx_buffers_total", "Buffers enqueued by the core.", core),
		txBytes:   desc("tx_bytes_total", "Bytes enqueued by the core.", core),
		batches:   desc("batches_total", "Batches fully handed downstream.", core),
		execCalls: desc("exec_calls_total", "Stage exec invocations.", core),
		drops:     desc("drops_total", "Buffers consumed by a stage without forwarding.", core),
		custom:    desc("stage_events_total", "Stage-specific counters.", named),
		gauges:    desc("stage_gauge", "Stage-specific gauges.", named),
		latency:   desc("stage_latency_nanoseconds", "Stage-specific latency histograms.", named),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.rxBufs, c.rxBytes, c.txBufs, c.txBytes, c.batches, c.execCalls, c.drops, c.custom, c.gauges, c.latency,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.table.Snapshot() {
		core := strconv.Itoa(s.Slot)
		counter := func(d *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), core)
		}
		counter(c.rxBufs, s.RxBufs)
		counter(c.rxBytes, s.RxBytes)
		counter(c.txBufs, s.TxBufs)
		counter(c.txBytes, s.TxBytes)
		counter(c.batches, s.Batches)
		counter(c.execCalls, s.ExecCalls)
		counter(c.drops, s.Drops)
		for name, v := range s.Custom {
			ch <- prometheus.MustNewConstMetric(c.custom, prometheus.CounterValue, float64(v), core, name)
		}
		for name, v := range s.Gauges {
			ch <- prometheus.MustNewConstMetric(c.gauges, prometheus.GaugeValue, float64(v), core, name)
		}
		for name, h := range s.Hists {
			ch <- prometheus.MustNewConstHistogram(c.latency, h.Count(), float64(h.Sum()), h.Buckets(), core, name)
		}
	}
}
