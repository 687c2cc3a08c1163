package controller

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/loqalabs/loqa-highlight/internal/controller"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
)

type instruments struct {
	sessions metric.Int64Counter
	matches  metric.Int64Counter
	misses   metric.Int64Counter
	errors   metric.Int64Counter
}

func newInstruments(logger *slog.Logger) instruments {
	var inst instruments
	var err error
	if inst.sessions, err = meter.Int64Counter("loqa.highlight.sessions", metric.WithDescription("Sessions started")); err != nil {
		logger.Warn("failed to create sessions counter", slogError(err))
	}
	if inst.matches, err = meter.Int64Counter("loqa.highlight.matches", metric.WithDescription("Spoken words aligned to a token")); err != nil {
		logger.Warn("failed to create matches counter", slogError(err))
	}
	if inst.misses, err = meter.Int64Counter("loqa.highlight.misses", metric.WithDescription("Spoken words with no forward match")); err != nil {
		logger.Warn("failed to create misses counter", slogError(err))
	}
	if inst.errors, err = meter.Int64Counter("loqa.highlight.errors", metric.WithDescription("Sessions terminated by an error")); err != nil {
		logger.Warn("failed to create errors counter", slogError(err))
	}
	return inst
}

func add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
