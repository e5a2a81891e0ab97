package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// buildInfo is a constant 1 labelled with version and commit.
var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "contenthub_build_info",
		Help: "contenthub build information.",
	},
	[]string{"version", "commit"},
)

// InitBuildInfo sets contenthub_build_info{version,commit} to 1.
func InitBuildInfo(version, commit string) {
	Registry()
	buildInfo.WithLabelValues(version, commit).Set(1)
}
