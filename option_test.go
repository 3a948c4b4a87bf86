package netframe

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestMessageMaxSize(t *testing.T) {
	opt := MessageMaxSize(4096)

	var opts options
	opt(&opts)

	if opts.maxMessageSize != 4096 {
		t.Errorf("maxMessageSize = %d, want 4096", opts.maxMessageSize)
	}
}

func TestReadBufferSizeOption(t *testing.T) {
	opt := ReadBufferSizeOption(100)

	var opts options
	opt(&opts)

	if opts.readBufferSize != 100 {
		t.Errorf("readBufferSize = %d, want 100", opts.readBufferSize)
	}
}

func TestFirstClientIDOption(t *testing.T) {
	opt := FirstClientIDOption(1)

	var opts options
	opt(&opts)

	if opts.firstClientID != 1 {
		t.Errorf("firstClientID = %d, want 1", opts.firstClientID)
	}
}

func TestReuseAddrOption(t *testing.T) {
	opts := newOptions([]Option{ReuseAddrOption(false)})
	if opts.reuseAddr {
		t.Error("reuseAddr should be disabled")
	}

	opts = newOptions([]Option{ReuseAddrOption(true)})
	if !opts.reuseAddr {
		t.Error("reuseAddr should be enabled")
	}
}

func TestLoggerOption(t *testing.T) {
	logger := &mockLogger{}
	opt := LoggerOption(logger)

	var opts options
	opt(&opts)

	if opts.logger != logger {
		t.Error("logger not set correctly")
	}
}

func TestMetricsOption(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := newOptions([]Option{MetricsOption(reg)})

	if opts.registerer != reg {
		t.Error("registerer not set correctly")
	}
}

func TestTracerProviderOption(t *testing.T) {
	tp := noop.NewTracerProvider()
	opts := newOptions([]Option{TracerProviderOption(tp)})

	if opts.tracerProvider != tp {
		t.Error("tracer provider not set correctly")
	}
}

func TestCheckOptions_Defaults(t *testing.T) {
	var opts options
	checkOptions(&opts)

	if opts.logger == nil {
		t.Error("logger should default to slog")
	}
	if opts.maxMessageSize != defaultMaxMessageSize {
		t.Errorf("maxMessageSize = %d, want %d", opts.maxMessageSize, defaultMaxMessageSize)
	}
	if opts.readBufferSize != defaultReadBufferSize {
		t.Errorf("readBufferSize = %d, want %d", opts.readBufferSize, defaultReadBufferSize)
	}
	if opts.firstClientID != defaultFirstClientID {
		t.Errorf("firstClientID = %d, want %d", opts.firstClientID, defaultFirstClientID)
	}
	if !opts.reuseAddr {
		t.Error("reuseAddr should default to true")
	}
	if opts.tracerProvider != otel.GetTracerProvider() {
		t.Error("tracer provider should default to the global provider")
	}
	if opts.registerer != nil {
		t.Error("metrics should be disabled by default")
	}
}

func TestCheckOptions_InvalidSizes(t *testing.T) {
	opts := newOptions([]Option{MessageMaxSize(-1), ReadBufferSizeOption(0)})

	if opts.maxMessageSize != defaultMaxMessageSize {
		t.Errorf("maxMessageSize = %d, want %d", opts.maxMessageSize, defaultMaxMessageSize)
	}
	if opts.readBufferSize != defaultReadBufferSize {
		t.Errorf("readBufferSize = %d, want %d", opts.readBufferSize, defaultReadBufferSize)
	}
}

func TestOptions_MultipleOptions(t *testing.T) {
	logger := &mockLogger{}

	opts := newOptions([]Option{
		LoggerOption(logger),
		MessageMaxSize(2048),
		ReadBufferSizeOption(512),
		FirstClientIDOption(42),
	})

	if opts.logger != logger {
		t.Error("logger not set")
	}
	if opts.maxMessageSize != 2048 {
		t.Errorf("maxMessageSize = %d, want 2048", opts.maxMessageSize)
	}
	if opts.readBufferSize != 512 {
		t.Errorf("readBufferSize = %d, want 512", opts.readBufferSize)
	}
	if opts.firstClientID != 42 {
		t.Errorf("firstClientID = %d, want 42", opts.firstClientID)
	}
}
