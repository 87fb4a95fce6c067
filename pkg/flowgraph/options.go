package flowgraph

import (
	"log/slog"

	"github.com/randalmurphal/sqlchat/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/sqlchat/pkg/flowgraph/observability"
)

// runConfig holds configuration for graph execution.
type runConfig struct {
	maxIterations int

	checkpointStore checkpoint.Store
	threadID        string

	logger         *slog.Logger
	tracingEnabled bool
	spans          observability.SpanManager
	metrics        observability.MetricsRecorder
}

func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: 100,
		spans:         observability.NoopSpanManager{},
		metrics:       observability.NoopMetrics{},
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node executions.
// Default: 100
//
// This bounds loops in the graph. A run that exceeds the limit returns
// a *MaxIterationsError and commits nothing.
func WithMaxIterations(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithCheckpointing commits the final state to store when the run reaches END.
// Requires WithThreadID.
func WithCheckpointing(store checkpoint.Store) RunOption {
	return func(c *runConfig) {
		c.checkpointStore = store
	}
}

// WithThreadID sets the key the final state is committed under.
func WithThreadID(id string) RunOption {
	return func(c *runConfig) {
		c.threadID = id
	}
}

// WithObservabilityLogger enables run and node lifecycle logging.
func WithObservabilityLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithTracing enables OpenTelemetry spans for the run and each node.
func WithTracing(spans observability.SpanManager) RunOption {
	return func(c *runConfig) {
		if spans != nil {
			c.tracingEnabled = true
			c.spans = spans
		}
	}
}

// WithMetrics records run, node, and checkpoint metrics.
func WithMetrics(metrics observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}
