package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var residentModels = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "segensemble_device_resident_models",
	Help: "Number of models whose weights are resident on the device",
}, []string{"device"})

var forwardSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "segensemble_forward_seconds",
	Help:    "Time spent producing one model's probabilities for one case",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
}, []string{"model", "tta"})

var forwardFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "segensemble_forward_failures_total",
	Help: "Model turns that ended in an inference error",
}, []string{"model"})
