package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	shardsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coordinator_shards",
		Help: "Number of connected shards",
	})
	charactersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coordinator_characters",
		Help: "Number of characters with a known shard",
	})
	registersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_registers_total",
		Help: "Accepted shard registrations by kind",
	}, []string{"kind"})
	relayedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_relayed_total",
		Help: "Relayed messages by type",
	}, []string{"msgtype"})
	forceDespawnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_force_despawns_total",
		Help: "Force despawn requests by result",
	}, []string{"result"})
	runMapsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_run_maps_total",
		Help: "Run map requests by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		shardsGauge,
		charactersGauge,
		registersTotal,
		relayedTotal,
		forceDespawnsTotal,
		runMapsTotal,
	)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "failed"
}
