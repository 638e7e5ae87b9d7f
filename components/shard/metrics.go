package shard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xiaonanln/mapshard/engine/proto"
)

var (
	sessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapshard_sessions",
		Help: "Number of admitted sessions",
	})
	pendingDespawnsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapshard_pending_despawns",
		Help: "Number of despawn tickets not finished yet",
	})
	loadingStoragesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapshard_loading_storages",
		Help: "Number of storage loads in flight",
	})
	pendingStorageSavesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapshard_pending_storage_saves",
		Help: "Number of storage saves waiting for the next flush",
	})
	cachedPartiesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapshard_cached_parties",
		Help: "Number of cached parties",
	})
	cachedGuildsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapshard_cached_guilds",
		Help: "Number of cached guilds",
	})
	admissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapshard_admissions_total",
		Help: "Admissions by result",
	}, []string{"result"})
	despawnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapshard_despawns_total",
		Help: "Finished despawn tickets by outcome",
	}, []string{"outcome"})
	socialUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapshard_social_updates_total",
		Help: "Applied social updates by kind",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		sessionsGauge,
		pendingDespawnsGauge,
		loadingStoragesGauge,
		pendingStorageSavesGauge,
		cachedPartiesGauge,
		cachedGuildsGauge,
		admissionsTotal,
		despawnsTotal,
		socialUpdatesTotal,
	)
}

func admissionResult(err error) string {
	if err == nil {
		return "ok"
	}
	switch kickReasonOf(err) {
	case proto.KickNotReady:
		return "not_ready"
	case proto.KickAlreadyRegistered:
		return "already_registered"
	case proto.KickInvalidToken:
		return "invalid_token"
	}
	return "failed"
}
