package observability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// allowedPrefixes are the span attribute namespaces tagvol emits.
var allowedPrefixes = []string{
	"tagvol.",
	"reconstruct.",
	"histogram.",
	"pointstream.",
	"persist.",
	"http.",
	"error.",
}

// blockedKeys never leave the process. Acquisition paths can embed
// experiment and subject names.
var blockedKeys = map[string]bool{
	"filename":    true,
	"config.path": true,
}

// attributeFilter is a SpanProcessor that drops span attributes outside the
// allow-list before handing the span to its delegate.
type attributeFilter struct {
	delegate sdktrace.SpanProcessor
	logger   *slog.Logger
}

// NewAttributeFilter wraps delegate. A non-nil logger warns on every dropped
// key.
func NewAttributeFilter(delegate sdktrace.SpanProcessor, logger *slog.Logger) sdktrace.SpanProcessor {
	return &attributeFilter{delegate: delegate, logger: logger}
}

func (f *attributeFilter) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	f.delegate.OnStart(parent, s)
}

// OnEnd hands the delegate a filtered read-only view.
func (f *attributeFilter) OnEnd(s sdktrace.ReadOnlySpan) {
	f.delegate.OnEnd(&filteredSpan{ReadOnlySpan: s, filter: f})
}

func (f *attributeFilter) Shutdown(ctx context.Context) error {
	err := f.delegate.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("attribute filter shutdown: %w", err)
	}

	return nil
}

func (f *attributeFilter) ForceFlush(ctx context.Context) error {
	err := f.delegate.ForceFlush(ctx)
	if err != nil {
		return fmt.Errorf("attribute filter flush: %w", err)
	}

	return nil
}

func (f *attributeFilter) allowed(key string) bool {
	if key == "error" {
		return true
	}

	if !blockedKeys[key] {
		for _, prefix := range allowedPrefixes {
			if strings.HasPrefix(key, prefix) {
				return true
			}
		}
	}

	if f.logger != nil {
		f.logger.Warn("observability: span attribute dropped", "key", key)
	}

	return false
}

type filteredSpan struct {
	sdktrace.ReadOnlySpan

	filter *attributeFilter
}

// Attributes returns only the allowed attributes.
func (s *filteredSpan) Attributes() []attribute.KeyValue {
	orig := s.ReadOnlySpan.Attributes()
	kept := make([]attribute.KeyValue, 0, len(orig))

	for _, kv := range orig {
		if s.filter.allowed(string(kv.Key)) {
			kept = append(kept, kv)
		}
	}

	return kept
}
