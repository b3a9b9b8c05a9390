package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	RefreshTicks    prometheus.Counter
	RefreshErrors   prometheus.Counter
	RefreshDuration prometheus.Histogram
	Routes          prometheus.Gauge
	DatasetVersion  prometheus.Gauge

	Malformed *prometheus.CounterVec // kind label: stop|route

	LiveViews      prometheus.Gauge
	FramesRendered prometheus.Counter
	FramesDropped  prometheus.Counter
	RenderDuration prometheus.Histogram

	CacheLookups *prometheus.CounterVec // result label: hit|miss|error

	RefreshInterval prometheus.Gauge // seconds
}

func NewCollector(refreshInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		RefreshTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busmap_refresh_total",
			Help: "Total dataset refreshes applied.",
		}),
		RefreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busmap_refresh_errors_total",
			Help: "Total refreshes that kept the previous dataset.",
		}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "busmap_refresh_duration_seconds",
			Help:    "Duration of a dataset refresh.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		Routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busmap_routes",
			Help: "Number of routes in the current dataset.",
		}),
		DatasetVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busmap_dataset_version",
			Help: "Version of the current dataset.",
		}),
		Malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busmap_feed_malformed_total",
			Help: "Feed entries dropped as malformed.",
		}, []string{"kind"}),
		LiveViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busmap_live_views",
			Help: "Number of connected map views.",
		}),
		FramesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busmap_frames_rendered_total",
			Help: "Total frames rendered.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busmap_frames_dropped_total",
			Help: "Frames dropped because a view's buffer was full.",
		}),
		RenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "busmap_render_duration_seconds",
			Help:    "Duration of a frame render.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 15),
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busmap_frame_cache_lookups_total",
			Help: "Frame cache lookups by result.",
		}, []string{"result"}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busmap_refresh_interval_seconds",
			Help: "Refresh interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.RefreshTicks, c.RefreshErrors, c.RefreshDuration,
		c.Routes, c.DatasetVersion, c.Malformed,
		c.LiveViews, c.FramesRendered, c.FramesDropped, c.RenderDuration,
		c.CacheLookups, c.RefreshInterval,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c.RefreshInterval.Set(refreshInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// MalformedAdd counts feed entries dropped while decoding.
func (c *Collector) MalformedAdd(kind string, n int) {
	c.Malformed.WithLabelValues(kind).Add(float64(n))
}

func (c *Collector) FrameRendered(d time.Duration) {
	c.FramesRendered.Inc()
	c.RenderDuration.Observe(d.Seconds())
}

func (c *Collector) FrameDropped() { c.FramesDropped.Inc() }

func (c *Collector) ViewConnected()    { c.LiveViews.Inc() }
func (c *Collector) ViewDisconnected() { c.LiveViews.Dec() }

func (c *Collector) RefreshCompleted(version uint64, routes int, d time.Duration) {
	c.RefreshTicks.Inc()
	c.RefreshDuration.Observe(d.Seconds())
	c.Routes.Set(float64(routes))
	c.DatasetVersion.Set(float64(version))
}

func (c *Collector) RefreshFailed() { c.RefreshErrors.Inc() }

func (c *Collector) CacheLookup(result string) {
	c.CacheLookups.WithLabelValues(result).Inc()
}
