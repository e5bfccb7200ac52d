package rockyardtxn

// metrics.go exports statistics and properties to Prometheus.

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// metricName turns "rocksdb.txn.commit" into "txn_commit".
func metricName(name string) string {
	name = strings.TrimPrefix(name, "rocksdb.")
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

type statisticsCollector struct {
	stats      Statistics
	tickers    [TickerEnumMax]*prometheus.Desc
	histograms [HistogramEnumMax]*prometheus.Desc
}

// NewStatisticsCollector returns a Prometheus collector exporting every
// ticker of stats as a counter and every histogram as a summary.
func NewStatisticsCollector(stats Statistics, namespace string) prometheus.Collector {
	c := &statisticsCollector{stats: stats}
	for i := TickerType(0); i < TickerEnumMax; i++ {
		c.tickers[i] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", metricName(i.String())+"_total"),
			"Ticker "+i.String()+".", nil, nil)
	}
	for i := HistogramType(0); i < HistogramEnumMax; i++ {
		c.histograms[i] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", metricName(i.String())),
			"Histogram "+i.String()+".", nil, nil)
	}
	return c
}

func (c *statisticsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.tickers {
		ch <- d
	}
	for _, d := range c.histograms {
		ch <- d
	}
}

func (c *statisticsCollector) Collect(ch chan<- prometheus.Metric) {
	for i, d := range c.tickers {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue,
			float64(c.stats.GetTickerCount(TickerType(i))))
	}
	for i, d := range c.histograms {
		h := c.stats.GetHistogramData(HistogramType(i))
		ch <- prometheus.MustNewConstSummary(d, h.Count, float64(h.Sum), nil)
	}
}

type dbCollector struct {
	db     *DB
	gauges map[string]*prometheus.Desc
}

// dbGaugeProperties are the integer properties exported by NewDBCollector.
var dbGaugeProperties = []string{
	PropertyNumSnapshots,
	PropertyNumRunningTransactions,
	PropertyLatestSequenceNumber,
	PropertyCurSizeAllMemTables,
	PropertyNumColumnFamilies,
}

// NewDBCollector returns a Prometheus collector exporting the DB's
// snapshot, transaction and memtable properties as gauges.
func NewDBCollector(db *DB, namespace string) prometheus.Collector {
	c := &dbCollector{db: db, gauges: make(map[string]*prometheus.Desc, len(dbGaugeProperties))}
	for _, p := range dbGaugeProperties {
		c.gauges[p] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", metricName(p)),
			"Property "+p+".", nil, nil)
	}
	return c
}

func (c *dbCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.gauges {
		ch <- d
	}
}

func (c *dbCollector) Collect(ch chan<- prometheus.Metric) {
	for _, p := range dbGaugeProperties {
		v, ok := c.db.GetIntProperty(p)
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.gauges[p], prometheus.GaugeValue, float64(v))
	}
}
