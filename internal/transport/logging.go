package transport

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// LoggingTransport logs every JMX round trip at debug level, including the
// Refresh and Location headers that drive redirects. Bodies stay out of the
// log; a roster can list thousands of hosts.
type LoggingTransport struct {
	next   http.RoundTripper
	logger *zap.Logger
}

// NewLoggingTransport wraps next, or http.DefaultTransport when nil.
func NewLoggingTransport(next http.RoundTripper, logger *zap.Logger) *LoggingTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingTransport{next: next, logger: logger.Named("http-trace")}
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	fields := []zap.Field{zap.String("method", req.Method), zap.Stringer("url", req.URL)}
	started := time.Now()

	resp, err := t.next.RoundTrip(req)
	fields = append(fields, zap.Duration("duration", time.Since(started)))
	if err != nil {
		t.logger.Debug("JMX round trip failed", append(fields, zap.Error(err))...)
		return nil, err
	}

	fields = append(fields, zap.Int("status", resp.StatusCode), zap.Int64("content_length", resp.ContentLength))
	if refresh := resp.Header.Get(RefreshHeader); refresh != "" {
		fields = append(fields, zap.String("refresh", refresh))
	}
	if location := resp.Header.Get("Location"); location != "" {
		fields = append(fields, zap.String("location", location))
	}
	t.logger.Debug("JMX round trip", fields...)
	return resp, nil
}
