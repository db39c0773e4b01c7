package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TxProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plinkochain_txs_total",
			Help: "Total transactions processed, by type and result",
		},
		[]string{"type", "result"},
	)

	GamesStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plinkochain_games_started_total",
			Help: "Total games started",
		},
	)

	GamesSettled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plinkochain_games_settled_total",
			Help: "Total games settled",
		},
	)

	HouseBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "plinkochain_house_balance",
			Help: "Current house vault balance",
		},
	)

	PendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "plinkochain_pending_requests",
			Help: "Randomness requests awaiting fulfillment",
		},
	)
)

func Init() {
	prometheus.MustRegister(TxProcessed)
	prometheus.MustRegister(GamesStarted)
	prometheus.MustRegister(GamesSettled)
	prometheus.MustRegister(HouseBalance)
	prometheus.MustRegister(PendingRequests)
}
