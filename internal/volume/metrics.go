package volume

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"voxelhull.dev/internal/hull/index"
)

const (
	volumeLabel    = "volume"
	opLabel        = "op"
	codeLabel      = "code"
	directionLabel = "direction"
	kindLabel      = "kind"
)

var (
	editOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxelhull_edit_ops_total",
		Help: "The number of applied edit ops.",
	}, []string{volumeLabel, opLabel})

	editRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxelhull_edit_rejected_total",
		Help: "The number of rejected edit batches.",
	}, []string{codeLabel})

	hullChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxelhull_hull_changes_total",
		Help: "The number of hull additions and removals reported to subscribers.",
	}, []string{directionLabel, kindLabel})

	occupiedVoxels = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voxelhull_occupied_voxels",
		Help: "The number of occupied voxels.",
	}, []string{volumeLabel})

	subscriberCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voxelhull_subscribers",
		Help: "The number of subscribers receiving hull deltas.",
	}, []string{volumeLabel})

	droppedSubscribersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxelhull_dropped_subscribers_total",
		Help: "The number of subscribers dropped for not keeping up.",
	}, []string{volumeLabel})
)

func instrumentApplied(volume string, res Result, occupied int) {
	editOpsTotal.With(prometheus.Labels{volumeLabel: volume, opLabel: "set"}).Add(float64(res.Sets))
	editOpsTotal.With(prometheus.Labels{volumeLabel: volume, opLabel: "substitute"}).Add(float64(res.Substitutions))
	editOpsTotal.With(prometheus.Labels{volumeLabel: volume, opLabel: "clear"}).Add(float64(res.Clears))
	editOpsTotal.With(prometheus.Labels{volumeLabel: volume, opLabel: "noop_clear"}).Add(float64(res.NoopClears))
	instrumentOccupied(volume, occupied)
}

func instrumentOccupied(volume string, occupied int) {
	occupiedVoxels.With(prometheus.Labels{volumeLabel: volume}).Set(float64(occupied))
}

func instrumentRejected(code string) {
	editRejectedTotal.With(prometheus.Labels{codeLabel: code}).Inc()
}

func instrumentFlush(sum FlushSummary) {
	for _, d := range index.Directions {
		if n := sum.Added[d]; n > 0 {
			hullChangesTotal.With(prometheus.Labels{directionLabel: d.String(), kindLabel: "added"}).Add(float64(n))
		}
		if n := sum.Removed[d]; n > 0 {
			hullChangesTotal.With(prometheus.Labels{directionLabel: d.String(), kindLabel: "removed"}).Add(float64(n))
		}
	}
}

func instrumentSubscribers(volume string, n int) {
	subscriberCount.With(prometheus.Labels{volumeLabel: volume}).Set(float64(n))
}

func instrumentDroppedSubscriber(volume string) {
	droppedSubscribersTotal.With(prometheus.Labels{volumeLabel: volume}).Inc()
}
