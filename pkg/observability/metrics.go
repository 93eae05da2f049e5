package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics for the package and plugin
// subsystem.
type Metrics struct {
	PackageLoadsTotal   *prometheus.CounterVec
	PackageUnloadsTotal *prometheus.CounterVec
	PluginLoadsTotal    *prometheus.CounterVec
	PluginUnloadsTotal  *prometheus.CounterVec
	LoadedPackages      prometheus.Gauge
	LoadedPlugins       prometheus.Gauge
	ScanDuration        prometheus.Histogram
	AvailablePackages   prometheus.Gauge
}

// NewMetrics creates and registers the subsystem metrics on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		PackageLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ember_package_loads_total",
				Help: "Total number of package load attempts",
			},
			[]string{"status"},
		),
		PackageUnloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ember_package_unloads_total",
				Help: "Total number of package unload attempts",
			},
			[]string{"status"},
		),
		PluginLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ember_plugin_loads_total",
				Help: "Total number of native plugin load attempts",
			},
			[]string{"status"},
		),
		PluginUnloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ember_plugin_unloads_total",
				Help: "Total number of native plugin unload attempts",
			},
			[]string{"status"},
		),
		LoadedPackages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ember_loaded_packages",
			Help: "Number of currently loaded packages",
		}),
		LoadedPlugins: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ember_loaded_plugins",
			Help: "Number of currently loaded native plugins",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ember_package_scan_duration_seconds",
			Help:    "Duration of package root scans",
			Buckets: prometheus.DefBuckets,
		}),
		AvailablePackages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ember_available_packages",
			Help: "Number of package candidates found by the last scan",
		}),
	}

	registry.MustRegister(
		m.PackageLoadsTotal,
		m.PackageUnloadsTotal,
		m.PluginLoadsTotal,
		m.PluginUnloadsTotal,
		m.LoadedPackages,
		m.LoadedPlugins,
		m.ScanDuration,
		m.AvailablePackages,
	)

	return m
}

// ObserveScan records one scan's duration and result size. Safe on a nil
// receiver so callers can run without metrics wired.
func (m *Metrics) ObserveScan(d time.Duration, available int) {
	if m == nil {
		return
	}
	m.ScanDuration.Observe(d.Seconds())
	m.AvailablePackages.Set(float64(available))
}

// CountPackageLoad records a package load attempt.
func (m *Metrics) CountPackageLoad(ok bool) {
	if m == nil {
		return
	}
	m.PackageLoadsTotal.WithLabelValues(statusLabel(ok)).Inc()
}

// CountPackageUnload records a package unload attempt.
func (m *Metrics) CountPackageUnload(ok bool) {
	if m == nil {
		return
	}
	m.PackageUnloadsTotal.WithLabelValues(statusLabel(ok)).Inc()
}

// CountPluginLoad records a native plugin load attempt.
func (m *Metrics) CountPluginLoad(ok bool) {
	if m == nil {
		return
	}
	m.PluginLoadsTotal.WithLabelValues(statusLabel(ok)).Inc()
}

// CountPluginUnload records a native plugin unload attempt.
func (m *Metrics) CountPluginUnload(ok bool) {
	if m == nil {
		return
	}
	m.PluginUnloadsTotal.WithLabelValues(statusLabel(ok)).Inc()
}

// SetLoaded updates the loaded-package and loaded-plugin gauges.
func (m *Metrics) SetLoaded(packages, plugins int) {
	if m == nil {
		return
	}
	m.LoadedPackages.Set(float64(packages))
	m.LoadedPlugins.Set(float64(plugins))
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
