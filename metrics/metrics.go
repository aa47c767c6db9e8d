// Package metrics exposes Prometheus collectors for the HTTP surface and
// for form activity.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dalemusser/regform/form"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// reqDuration is a histogram of HTTP request durations in seconds, labeled
// by route pattern, method, and status code.
var reqDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	},
	[]string{"path", "method", "status"},
)

// RegisterDefault registers the Go runtime and process collectors plus the
// HTTP request histogram on the default registry. Calling it twice is
// harmless; any other registration failure is fatal.
func RegisterDefault(logger *zap.Logger) {
	mustRegister(logger, prometheus.DefaultRegisterer, "Go collector", collectors.NewGoCollector())
	mustRegister(logger, prometheus.DefaultRegisterer, "process collector", collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mustRegister(logger, prometheus.DefaultRegisterer, "HTTP request histogram", reqDuration)
}

func mustRegister(logger *zap.Logger, reg prometheus.Registerer, name string, c prometheus.Collector) {
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return
		}
		if logger != nil {
			logger.Fatal("failed to register "+name, zap.Error(err))
		}
		panic("metrics: failed to register " + name + ": " + err.Error())
	}
}

// HTTPMetrics records request duration into http_request_duration_seconds,
// labeled with the chi route pattern rather than the raw path.
func HTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		protoMajor := r.ProtoMajor
		if protoMajor < 1 {
			protoMajor = 1
		}
		ww := middleware.NewWrapResponseWriter(w, protoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if status < 100 || status > 599 {
			status = http.StatusInternalServerError
		}

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		reqDuration.WithLabelValues(path, r.Method, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}

// Handler returns an http.Handler that exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// FormObserver counts form activity. It implements form.Observer.
type FormObserver struct {
	fieldChanges   *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	valid          prometheus.Gauge
	successVisible prometheus.Gauge
}

var _ form.Observer = (*FormObserver)(nil)

// NewFormObserver creates the form collectors and registers them on reg.
// A nil reg uses the default registerer.
func NewFormObserver(reg prometheus.Registerer, logger *zap.Logger) *FormObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &FormObserver{
		fieldChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regform_field_changes_total",
			Help: "Field change events applied to the form.",
		}, []string{"field"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regform_submissions_total",
			Help: "Submit intents by outcome (accepted or rejected).",
		}, []string{"outcome"}),
		valid: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regform_form_valid",
			Help: "1 when the current form passes every rule.",
		}),
		successVisible: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regform_success_visible",
			Help: "1 while the success message is displayed.",
		}),
	}
	mustRegister(logger, reg, "field change counter", o.fieldChanges)
	mustRegister(logger, reg, "submission counter", o.submissions)
	mustRegister(logger, reg, "form valid gauge", o.valid)
	mustRegister(logger, reg, "success gauge", o.successVisible)
	return o
}

// FieldChanged implements form.Observer.
func (o *FormObserver) FieldChanged(field form.Field, errs form.Errors) {
	o.fieldChanges.WithLabelValues(string(field)).Inc()
	if errs.Valid() {
		o.valid.Set(1)
	} else {
		o.valid.Set(0)
	}
}

// Submitted implements form.Observer.
func (o *FormObserver) Submitted(accepted bool) {
	if !accepted {
		o.submissions.WithLabelValues("rejected").Inc()
		return
	}
	o.submissions.WithLabelValues("accepted").Inc()
	// A successful submit resets the form, which is never valid when empty.
	o.valid.Set(0)
	o.successVisible.Set(1)
}

// SuccessCleared implements form.Observer.
func (o *FormObserver) SuccessCleared() {
	o.successVisible.Set(0)
}
