package server

import (
	"sync"
	"time"

	"github.com/Trinoooo/eggie_echo/consts"
	"github.com/Trinoooo/eggie_echo/logs"
	"github.com/bytedance/gopkg/util/gopool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

var pushLogger = logs.Named("metrics")

// MetricsHelper 每个事件循环一份，注册到自己的 registry 上，
// 同一进程内可以同时存在多个事件循环（例如单测）
type MetricsHelper struct {
	registry *prometheus.Registry

	ConnectionAcceptCounter  prometheus.Counter   // 成功接入的连接
	ConnectionRejectCounter  prometheus.Counter   // accept 或注册失败被丢弃的连接
	ConnectionCloseCounter   prometheus.Counter   // 已销毁的连接
	ConnectionActiveGauge    prometheus.Gauge     // 连接表中的连接数
	BytesReadCounter         prometheus.Counter   // 从套接字读到的字节
	BytesWrittenCounter      prometheus.Counter   // 写到套接字的字节
	BytesEchoedCounter       prometheus.Counter   // handler 写入输出缓冲区的字节
	BackpressurePauseCounter prometheus.Counter   // 因高水位暂停读的次数
	WaitBatchHistogram       prometheus.Histogram // 单次 wait 返回的就绪数量

	pool     gopool.Pool
	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

func NewMetricsHelper() *MetricsHelper {
	mh := &MetricsHelper{
		registry: prometheus.NewRegistry(),
		ConnectionAcceptCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eggie_echo_connection_accept_counter",
		}),
		ConnectionRejectCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eggie_echo_connection_reject_counter",
		}),
		ConnectionCloseCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eggie_echo_connection_close_counter",
		}),
		ConnectionActiveGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eggie_echo_connection_active",
		}),
		BytesReadCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eggie_echo_bytes_read_counter",
		}),
		BytesWrittenCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eggie_echo_bytes_written_counter",
		}),
		BytesEchoedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eggie_echo_bytes_echoed_counter",
		}),
		BackpressurePauseCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eggie_echo_backpressure_pause_counter",
		}),
		WaitBatchHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eggie_echo_wait_batch_size",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		stop: make(chan struct{}),
	}
	mh.registry.MustRegister(
		mh.ConnectionAcceptCounter,
		mh.ConnectionRejectCounter,
		mh.ConnectionCloseCounter,
		mh.ConnectionActiveGauge,
		mh.BytesReadCounter,
		mh.BytesWrittenCounter,
		mh.BytesEchoedCounter,
		mh.BackpressurePauseCounter,
		mh.WaitBatchHistogram,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return mh
}

func (mh *MetricsHelper) Registry() *prometheus.Registry {
	return mh.registry
}

// StartPush 定期把指标推送到 pushgateway，直到 Close
func (mh *MetricsHelper) StartPush(url string, interval time.Duration) {
	pusher := push.New(url, consts.AppName).Gatherer(mh.registry)
	if mh.pool == nil {
		mh.pool = gopool.NewPool("metrics", 1, gopool.NewConfig())
	}
	mh.done.Add(1)
	mh.pool.Go(func() {
		defer mh.done.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-mh.stop:
				return
			case <-ticker.C:
				if err := pusher.Add(); err != nil {
					pushLogger.Warn("prometheus pusher push failed", zap.String(consts.LogFieldValue, url), zap.Error(err))
				}
			}
		}
	})
	pushLogger.Info("metrics pusher start", zap.String(consts.LogFieldValue, url), zap.Duration(consts.LogFieldInterval, interval))
}

func (mh *MetricsHelper) Close() {
	mh.stopOnce.Do(func() {
		close(mh.stop)
	})
	mh.done.Wait()
}
