// ============================================================================
// Beaver-Swarm Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: collector.go
// 功能: 收集和暴露系統運行指標，支持 Prometheus 監控
//
// 指標分類:
//
//   1. 任務計數器 (Counter) - 累計值，只增不減：
//      - swarm_tasks_dispatched_total: 已分派任務總數
//      - swarm_tasks_completed_total: 成功完成任務總數
//      - swarm_tasks_failed_total: 執行失敗任務總數
//      - swarm_tasks_timeout_total: 超時任務總數
//      - swarm_routing_failures_total: 路由失敗總數（找不到合適 Worker）
//
//   2. 性能指標 (Histogram) - 分佈統計：
//      - swarm_task_duration_seconds: 任務執行時間分佈
//
//   3. 狀態指標 (Gauge) - 瞬時值：
//      - swarm_workers_busy: 當前工作中的 Worker 數
//      - swarm_rounds_completed: 已完成的回合數
//
// Prometheus 查詢示例:
//
//   # 錯誤率
//   rate(swarm_tasks_failed_total[5m]) / rate(swarm_tasks_dispatched_total[5m])
//
//   # 95 分位任務時間
//   histogram_quantile(0.95, swarm_task_duration_seconds_bucket)
//
// HTTP 端點:
//   通過 /metrics 端點暴露，由 Prometheus 定期抓取
//   默認端口: 9090
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector Prometheus 指標收集器
type Collector struct {
	// 任務相關指標
	tasksDispatched prometheus.Counter
	tasksCompleted  prometheus.Counter
	tasksFailed     prometheus.Counter
	tasksTimeout    prometheus.Counter
	routingFailures prometheus.Counter

	// 效能指標
	taskDuration prometheus.Histogram

	// 狀態指標
	workersBusy     prometheus.Gauge
	roundsCompleted prometheus.Gauge
}

// NewCollector 創建新的指標收集器
func NewCollector() *Collector {
	c := &Collector{
		tasksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swarm_tasks_dispatched_total",
			Help: "Total number of tasks dispatched to workers",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swarm_tasks_completed_total",
			Help: "Total number of tasks completed successfully",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swarm_tasks_failed_total",
			Help: "Total number of tasks that failed during execution",
		}),
		tasksTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swarm_tasks_timeout_total",
			Help: "Total number of tasks that exceeded the per-task timeout",
		}),
		routingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swarm_routing_failures_total",
			Help: "Total number of tasks with no eligible worker",
		}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "swarm_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_workers_busy",
			Help: "Current number of workers executing a task",
		}),
		roundsCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_rounds_completed",
			Help: "Number of completed coordination rounds",
		}),
	}

	// 註冊所有指標
	prometheus.MustRegister(c.tasksDispatched)
	prometheus.MustRegister(c.tasksCompleted)
	prometheus.MustRegister(c.tasksFailed)
	prometheus.MustRegister(c.tasksTimeout)
	prometheus.MustRegister(c.routingFailures)
	prometheus.MustRegister(c.taskDuration)
	prometheus.MustRegister(c.workersBusy)
	prometheus.MustRegister(c.roundsCompleted)

	return c
}

// RecordDispatch 記錄任務分派
func (c *Collector) RecordDispatch() {
	c.tasksDispatched.Inc()
	c.workersBusy.Inc()
}

// RecordCompleted 記錄任務成功完成
func (c *Collector) RecordCompleted(durationSeconds float64) {
	c.tasksCompleted.Inc()
	c.taskDuration.Observe(durationSeconds)
	c.workersBusy.Dec()
}

// RecordFailed 記錄任務執行失敗
func (c *Collector) RecordFailed() {
	c.tasksFailed.Inc()
	c.workersBusy.Dec()
}

// RecordTimeout 記錄任務超時
func (c *Collector) RecordTimeout() {
	c.tasksTimeout.Inc()
	c.workersBusy.Dec()
}

// RecordRoutingFailure 記錄路由失敗
func (c *Collector) RecordRoutingFailure() {
	c.routingFailures.Inc()
}

// SetRoundsCompleted 設置已完成回合數
func (c *Collector) SetRoundsCompleted(rounds int) {
	c.roundsCompleted.Set(float64(rounds))
}

// StartServer 啟動 Prometheus metrics HTTP 伺服器
//
// 參數：
//   - port: HTTP 伺服器端口
//
// 返回值：
//   - error: 啟動失敗的錯誤
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}
