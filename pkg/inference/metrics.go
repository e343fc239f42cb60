package inference

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var casesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "segensemble_cases_total",
	Help: "Cases processed, by outcome (written or the error kind that skipped them)",
}, []string{"outcome"})

var labelVoxels = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "segensemble_label_voxels_total",
	Help: "Voxels written per label",
}, []string{"label"})
