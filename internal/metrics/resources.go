package metrics

import (
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ResourceCollector samples CPU and memory of live managed processes at
// scrape time. pids returns the current name -> PID mapping.
type ResourceCollector struct {
	pids func() map[string]int32

	cpu     *prometheus.Desc
	rss     *prometheus.Desc
	threads *prometheus.Desc
}

func NewResourceCollector(pids func() map[string]int32) *ResourceCollector {
	labels := []string{"name", "pid"}
	return &ResourceCollector{
		pids: pids,
		cpu: prometheus.NewDesc(prometheus.BuildFQName(namespace, "process", "cpu_percent"),
			"CPU usage of the managed process since it started.", labels, nil),
		rss: prometheus.NewDesc(prometheus.BuildFQName(namespace, "process", "memory_rss_bytes"),
			"Resident set size of the managed process.", labels, nil),
		threads: prometheus.NewDesc(prometheus.BuildFQName(namespace, "process", "threads"),
			"Thread count of the managed process.", labels, nil),
	}
}

func (c *ResourceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.rss
	ch <- c.threads
}

func (c *ResourceCollector) Collect(ch chan<- prometheus.Metric) {
	for name, pid := range c.pids() {
		u, err := Sample(pid)
		if err != nil {
			slog.Debug("resource sample failed", "name", name, "pid", pid, "error", err)
			continue
		}
		p := strconv.Itoa(int(pid))
		ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, u.CPUPercent, name, p)
		ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(u.RSS), name, p)
		ch <- prometheus.MustNewConstMetric(c.threads, prometheus.GaugeValue, float64(u.Threads), name, p)
	}
}

// Usage is a point-in-time resource sample of one process.
type Usage struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSS        uint64  `json:"memory_rss"`
	Threads    int32   `json:"num_threads"`
}

// Sample reads resource usage for pid.
func Sample(pid int32) (Usage, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return Usage{}, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return Usage{}, err
	}
	u := Usage{RSS: mem.RSS}
	if cpu, err := p.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		u.Threads = n
	}
	return u, nil
}
