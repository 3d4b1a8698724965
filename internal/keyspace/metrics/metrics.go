// Package metrics registers the Prometheus stat counters the keyspace
// exposes: expired-key counts, keyspace hit/miss counts, and rehash
// progress. Same MustRegister-at-init shape as
// internal/engine/core/metrics/metrics.go.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ExpiredKeys = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keyspace_expired_keys_total",
		Help: "Total number of keys removed by the active expire cycle, by database; keys removed by lazy expiration on lookup are not counted",
	}, []string{"db"})

	KeyspaceHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keyspace_hits_total",
		Help: "Total number of successful lookup_read calls, by database",
	}, []string{"db"})

	KeyspaceMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keyspace_misses_total",
		Help: "Total number of lookup_read calls that found no live key, by database",
	}, []string{"db"})

	RehashInProgress = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "keyspace_dict_rehashing",
		Help: "1 if the main dict for a database is mid-rehash, else 0",
	}, []string{"db"})

	AvgTTL = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "keyspace_avg_ttl_milliseconds",
		Help: "Exponentially-smoothed average TTL observed by the active expire cycle, by database",
	}, []string{"db"})
)

func init() {
	prometheus.MustRegister(ExpiredKeys)
	prometheus.MustRegister(KeyspaceHits)
	prometheus.MustRegister(KeyspaceMisses)
	prometheus.MustRegister(RehashInProgress)
	prometheus.MustRegister(AvgTTL)
}

func IncExpired(db string, n int) {
	if n <= 0 {
		return
	}
	ExpiredKeys.WithLabelValues(db).Add(float64(n))
}

func IncHit(db string) { KeyspaceHits.WithLabelValues(db).Inc() }

func IncMiss(db string) { KeyspaceMisses.WithLabelValues(db).Inc() }

func SetRehashing(db string, rehashing bool) {
	v := 0.0
	if rehashing {
		v = 1.0
	}
	RehashInProgress.WithLabelValues(db).Set(v)
}

func SetAvgTTL(db string, ms float64) {
	AvgTTL.WithLabelValues(db).Set(ms)
}
