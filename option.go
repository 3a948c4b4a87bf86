package netframe

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	// defaultMaxMessageSize is the default maximum size of an inbound body (1MB).
	defaultMaxMessageSize = 1024 * 1024
	// defaultReadBufferSize is the default size of the per-connection read buffer.
	defaultReadBufferSize = 4096
	// defaultFirstClientID is the id handed to the first accepted connection.
	defaultFirstClientID = 10000
)

// options holds the configuration shared by servers and clients.
type options struct {
	logger         Logger
	registerer     prometheus.Registerer
	tracerProvider trace.TracerProvider

	maxMessageSize int    // maximum inbound body size
	readBufferSize int    // size of the buffered socket reader
	firstClientID  uint32 // id of the first accepted connection
	reuseAddr      bool   // set SO_REUSEADDR on the listener

	reuseAddrSet bool
}

// Option is a function that configures a Server or Client.
type Option func(*options)

// checkOptions sets default values for unset options.
func checkOptions(opts *options) {
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.maxMessageSize <= 0 {
		opts.maxMessageSize = defaultMaxMessageSize
	}

	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.firstClientID == 0 {
		opts.firstClientID = defaultFirstClientID
	}

	if !opts.reuseAddrSet {
		opts.reuseAddr = true
	}

	if opts.tracerProvider == nil {
		opts.tracerProvider = otel.GetTracerProvider()
	}
}

func newOptions(opt []Option) options {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)
	return opts
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MessageMaxSize returns an Option that sets the maximum inbound body size.
// A peer announcing a larger body is disconnected.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxMessageSize = size
	}
}

// ReadBufferSizeOption returns an Option that sets the size of the buffered
// reader placed in front of each socket.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// FirstClientIDOption returns an Option that sets the id given to the first
// connection a server accepts. Ids increase by one per accepted connection.
// Zero keeps the default, since zero means "no connection".
func FirstClientIDOption(id uint32) Option {
	return func(o *options) {
		o.firstClientID = id
	}
}

// ReuseAddrOption returns an Option that controls SO_REUSEADDR on the
// server's listening socket. Enabled by default.
func ReuseAddrOption(enabled bool) Option {
	return func(o *options) {
		o.reuseAddr = enabled
		o.reuseAddrSet = true
	}
}

// MetricsOption returns an Option that registers Prometheus collectors with reg.
// Metrics are disabled when not set.
func MetricsOption(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// TracerProviderOption returns an Option that sets the OpenTelemetry tracer
// provider. If not set, the global provider is used.
func TracerProviderOption(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}
