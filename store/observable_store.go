package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hatlonely/recx/cfg"
	"github.com/hatlonely/recx/log"
	"github.com/hatlonely/recx/record"
)

type ObservableOptions struct {
	// EnableMetrics 是否启用指标收集
	EnableMetrics bool `cfg:"enableMetrics" def:"true"`

	// EnableLogging 是否启用日志记录
	EnableLogging bool `cfg:"enableLogging" def:"true"`

	// EnableTracing 是否启用分布式追踪
	EnableTracing bool `cfg:"enableTracing" def:"false"`

	// Name 组件名称标识，用于所有观测维度
	// - Metrics: 作为指标名前缀
	// - Logging: 作为 component 字段值
	// - Tracing: 作为 span 的 component 属性
	Name string `cfg:"name" def:"recx_store"`

	// Logger 日志记录器配置
	Logger *log.SLogOptions `cfg:"logger"`
}

// ObservableMetrics 封装 prometheus 指标
type ObservableMetrics struct {
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	activeOperations  *prometheus.GaugeVec
	resultSize        *prometheus.HistogramVec
}

func NewObservableMetrics(name string) *ObservableMetrics {
	metrics := &ObservableMetrics{
		operationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"operation", "type", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_operation_duration_seconds",
				Help:    "Duration of store operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation", "type"},
		),
		activeOperations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name + "_active_operations",
				Help: "Number of active store operations",
			},
			[]string{"operation"},
		),
		resultSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_result_size",
				Help:    "Number of records returned by query operations",
				Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
			},
			[]string{"operation", "type"},
		),
	}

	prometheus.MustRegister(
		metrics.operationCounter,
		metrics.operationDuration,
		metrics.activeOperations,
		metrics.resultSize,
	)

	return metrics
}

// ObservableStore 装饰器，给任何 Store 加上指标、日志和追踪
type ObservableStore struct {
	base Store

	logger        log.Logger
	metrics       *ObservableMetrics
	tracer        trace.Tracer
	name          string
	enableMetrics bool
	enableLogging bool
	enableTracing bool
}

func NewObservableStoreWithOptions(base Store, options *ObservableOptions) (*ObservableStore, error) {
	if options == nil {
		options = &ObservableOptions{}
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, err
	}
	if base == nil {
		return nil, errors.New("base store is nil")
	}

	obs := &ObservableStore{
		base:          base,
		name:          options.Name,
		enableMetrics: options.EnableMetrics,
		enableLogging: options.EnableLogging,
		enableTracing: options.EnableTracing,
	}

	if options.EnableLogging {
		l, err := log.NewLoggerWithOptions(options.Logger)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to create logger")
		}
		obs.logger = l.WithGroup("observableStore")
	}
	if options.EnableMetrics {
		obs.metrics = NewObservableMetrics(options.Name)
	}
	if options.EnableTracing {
		obs.tracer = otel.Tracer(fmt.Sprintf("store.%s", options.Name))
	}

	return obs, nil
}

// observe 统一的操作观测逻辑，resultSize < 0 表示非查询操作
func (obs *ObservableStore) observe(ctx context.Context, operation, typ string, fn func(context.Context) (int, error)) error {
	start := time.Now()

	var span trace.Span
	if obs.enableTracing && obs.tracer != nil {
		ctx, span = obs.tracer.Start(ctx, fmt.Sprintf("store.%s", operation),
			trace.WithAttributes(
				attribute.String("component", obs.name),
				attribute.String("operation", operation),
				attribute.String("model_type", typ),
			),
		)
		defer span.End()
	}

	if obs.enableMetrics && obs.metrics != nil {
		obs.metrics.activeOperations.WithLabelValues(operation).Inc()
		defer obs.metrics.activeOperations.WithLabelValues(operation).Dec()
	}

	size, err := fn(ctx)
	duration := time.Since(start)

	if obs.enableTracing && span != nil {
		span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if obs.enableMetrics && obs.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		obs.metrics.operationCounter.WithLabelValues(operation, typ, status).Inc()
		obs.metrics.operationDuration.WithLabelValues(operation, typ).Observe(duration.Seconds())
		if size >= 0 {
			obs.metrics.resultSize.WithLabelValues(operation, typ).Observe(float64(size))
		}
	}

	if obs.enableLogging && obs.logger != nil {
		if err != nil {
			obs.logger.ErrorContext(ctx, "store operation failed",
				"component", obs.name,
				"operation", operation,
				"type", typ,
				"duration_ms", duration.Milliseconds(),
				"error", err.Error(),
			)
		} else {
			obs.logger.DebugContext(ctx, "store operation completed",
				"component", obs.name,
				"operation", operation,
				"type", typ,
				"duration_ms", duration.Milliseconds(),
			)
		}
	}

	return err
}

func (obs *ObservableStore) Exists(ctx context.Context, typ string, id any) (bool, error) {
	var exists bool
	err := obs.observe(ctx, "exists", typ, func(ctx context.Context) (int, error) {
		var err error
		exists, err = obs.base.Exists(ctx, typ, id)
		return -1, err
	})
	return exists, err
}

func (obs *ObservableStore) Get(ctx context.Context, typ string, id any) (*record.Model, error) {
	var m *record.Model
	err := obs.observe(ctx, "get", typ, func(ctx context.Context) (int, error) {
		var err error
		m, err = obs.base.Get(ctx, typ, id)
		return -1, err
	})
	return m, err
}

func (obs *ObservableStore) List(ctx context.Context, typ string, ids []any) ([]*record.Model, error) {
	var models []*record.Model
	err := obs.observe(ctx, "list", typ, func(ctx context.Context) (int, error) {
		var err error
		models, err = obs.base.List(ctx, typ, ids)
		return len(models), err
	})
	return models, err
}

func (obs *ObservableStore) Filter(ctx context.Context, typ string, cond map[string]any) ([]*record.Model, error) {
	var models []*record.Model
	err := obs.observe(ctx, "filter", typ, func(ctx context.Context) (int, error) {
		var err error
		models, err = obs.base.Filter(ctx, typ, cond)
		return len(models), err
	})
	return models, err
}

func (obs *ObservableStore) Set(ctx context.Context, m *record.Model) (*record.Model, error) {
	var result *record.Model
	err := obs.observe(ctx, "set", m.Type, func(ctx context.Context) (int, error) {
		var err error
		result, err = obs.base.Set(ctx, m)
		return -1, err
	})
	return result, err
}

func (obs *ObservableStore) Delete(ctx context.Context, typ string, id any) (bool, error) {
	var deleted bool
	err := obs.observe(ctx, "delete", typ, func(ctx context.Context) (int, error) {
		var err error
		deleted, err = obs.base.Delete(ctx, typ, id)
		return -1, err
	})
	return deleted, err
}

func (obs *ObservableStore) Build(ctx context.Context, types []string, opts ...BuildOption) (int, error) {
	var count int
	err := obs.observe(ctx, "build", fmt.Sprintf("%v", types), func(ctx context.Context) (int, error) {
		var err error
		count, err = obs.base.Build(ctx, types, opts...)
		return count, err
	})
	return count, err
}

func (obs *ObservableStore) Flush(ctx context.Context) error {
	return obs.observe(ctx, "flush", "", func(ctx context.Context) (int, error) {
		return -1, obs.base.Flush(ctx)
	})
}

func (obs *ObservableStore) Close() error {
	return obs.base.Close()
}
