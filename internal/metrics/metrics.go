// Package metrics 记录同步结果，供 daemon 的 /metrics 或 node_exporter textfile 采集
package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"cloudflare-waf-sync/pkg/models"
)

const namespace = "cf_waf_sync"

// Metrics 同步指标
type Metrics struct {
	registry *prometheus.Registry

	runs            *prometheus.CounterVec
	resolved        *prometheus.GaugeVec
	failedHosts     prometheus.Gauge
	lastSuccess     prometheus.Gauge
	lastRunDuration prometheus.Gauge

	mu   sync.RWMutex
	last *models.SyncTask
}

// New 创建独立 registry 的指标集合
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total sync runs by outcome",
			},
			[]string{"outcome"},
		),
		resolved: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resolved_addresses",
				Help:      "Addresses in the allow set of the last run",
			},
			[]string{"family"},
		),
		failedHosts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "failed_hosts",
			Help:      "Domains that failed to resolve in the last run",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful update",
		}),
		lastRunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Duration of the last sync run",
		}),
	}
	for _, o := range models.Outcomes {
		m.runs.WithLabelValues(string(o))
	}
	m.registry.MustRegister(m.runs, m.resolved, m.failedHosts, m.lastSuccess, m.lastRunDuration)
	return m
}

// Restore 从上一次写入的 textfile 恢复计数与 gauge，需在 Observe 之前调用；文件不存在时忽略
func (m *Metrics) Restore(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return fmt.Errorf("解析指标文件 %s 失败: %w", path, err)
	}

	for name, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch name {
			case namespace + "_runs_total":
				if v := metric.GetCounter().GetValue(); v > 0 {
					m.runs.WithLabelValues(labelValue(metric, "outcome")).Add(v)
				}
			case namespace + "_resolved_addresses":
				m.resolved.WithLabelValues(labelValue(metric, "family")).Set(metric.GetGauge().GetValue())
			case namespace + "_failed_hosts":
				m.failedHosts.Set(metric.GetGauge().GetValue())
			case namespace + "_last_success_timestamp_seconds":
				m.lastSuccess.Set(metric.GetGauge().GetValue())
			case namespace + "_last_run_duration_seconds":
				m.lastRunDuration.Set(metric.GetGauge().GetValue())
			}
		}
	}
	return nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// Observe 记录一次同步结果
func (m *Metrics) Observe(task *models.SyncTask) {
	if task == nil {
		return
	}
	m.runs.WithLabelValues(string(task.Outcome)).Inc()
	if task.Outcome != models.OutcomeLocked {
		m.resolved.WithLabelValues("ipv4").Set(float64(len(task.IPv4)))
		m.resolved.WithLabelValues("ipv6").Set(float64(len(task.IPv6)))
		m.failedHosts.Set(float64(len(task.FailedHosts)))
		m.lastRunDuration.Set(task.Duration().Seconds())
	}
	if task.Outcome.Succeeded() {
		end := task.EndTime
		if end.IsZero() {
			end = time.Now()
		}
		m.lastSuccess.Set(float64(end.Unix()))
	}

	m.mu.Lock()
	m.last = task
	m.mu.Unlock()
}

// Last 最近一次同步结果
func (m *Metrics) Last() *models.SyncTask {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// WriteTextfile 以 Prometheus 文本格式原子写入文件
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// StatusFunc 返回附加到 /healthz 的调度器状态
type StatusFunc func() map[string]interface{}

// Handler 返回 /metrics 与 /healthz 路由；scheduler 不为 nil 时 /healthz 带上调度状态
func (m *Metrics) Handler(scheduler StatusFunc) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := map[string]interface{}{
			"success": true,
		}
		if last := m.Last(); last != nil {
			status["data"] = map[string]interface{}{
				"task_id":    last.TaskId,
				"outcome":    last.Outcome,
				"start_time": last.StartTime,
				"addresses":  len(last.IPv4) + len(last.IPv6),
			}
		}
		if scheduler != nil {
			status["scheduler"] = scheduler()
		}
		_ = json.NewEncoder(w).Encode(status)
	})
	return r
}
