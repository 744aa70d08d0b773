package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const collectTimeout = 5 * time.Second

// JobCounter reports how many jobs are in each status.
type JobCounter interface {
	CountJobsByStatus(ctx context.Context) (map[string]int64, error)
}

type jobStatusCollector struct {
	counter  JobCounter
	statuses []string
	jobs     *prometheus.Desc
}

func newJobStatusCollector(c JobCounter, statuses []string) prometheus.Collector {
	return &jobStatusCollector{
		counter:  c,
		statuses: statuses,
		jobs: prometheus.NewDesc(
			fmt.Sprintf("%s_jobs", maskingSubsystem),
			"Number of jobs by status.",
			[]string{"status"},
			prometheus.Labels{},
		),
	}
}

// RegisterJobStatusCollector exposes the job status gauge, computed on every scrape.
func RegisterJobStatusCollector(c JobCounter, statuses []string) error {
	return prometheus.Register(newJobStatusCollector(c, statuses))
}

func (c *jobStatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobs
}

// Collect implements Collector.
func (c *jobStatusCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	counts, err := c.counter.CountJobsByStatus(ctx)
	if err != nil {
		zap.S().Named("job_collector").Errorf("failed to collect job statistics: %s", err)
		return
	}

	// every known status is reported, zero included
	for _, status := range c.statuses {
		ch <- prometheus.MustNewConstMetric(c.jobs, prometheus.GaugeValue, float64(counts[status]), status)
	}
}
