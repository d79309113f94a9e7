package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runbattle_queue_enqueued_total",
		Help: "Total number of matchmaking enqueues",
	})

	TicketsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runbattle_tickets_issued_total",
		Help: "Total number of match tickets written",
	})

	TicketsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runbattle_tickets_consumed_total",
		Help: "Total number of match tickets consumed by status polls",
	})

	SamplesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runbattle_gps_samples_ingested_total",
		Help: "Total number of GPS samples ingested",
	}, []string{"kind"})

	SamplesStale = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runbattle_gps_samples_stale_total",
		Help: "Total number of GPS samples behind the stored distance",
	})

	KmCrossings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runbattle_km_crossings_total",
		Help: "Total number of kilometre thresholds recorded",
	})

	BattlesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runbattle_battles_started_total",
		Help: "Total number of battles moved to IN_PROGRESS",
	})

	BattlesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runbattle_battles_completed_total",
		Help: "Total number of battles completed",
	}, []string{"kind"})

	BattlesCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runbattle_battles_cancelled_total",
		Help: "Total number of battles cancelled at the ready timeout",
	})

	ParticipantsKicked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runbattle_participants_kicked_total",
		Help: "Total number of participants kicked for not confirming in time",
	})

	RelayPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runbattle_relay_published_total",
		Help: "Total number of relay events published to the bus",
	})

	RelayPublishFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runbattle_relay_publish_failed_total",
		Help: "Total number of relay events that could not be published",
	})

	RelayDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runbattle_relay_delivered_total",
		Help: "Total number of relay payloads handed to local sockets",
	})

	RelayDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runbattle_relay_dropped_total",
		Help: "Total number of relay payloads dropped on full client buffers",
	})

	KafkaConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runbattle_kafka_consumed_total",
		Help: "Total number of Kafka messages handled, by topic and result",
	}, []string{"topic", "result"})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "runbattle_ws_clients",
		Help: "Current number of websocket clients on this instance",
	})
)
