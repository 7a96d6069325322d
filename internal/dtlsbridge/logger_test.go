package dtlsbridge

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerFactoryRoutesScopesAndLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l := NewLoggerFactory(logger).NewLogger("handshake")
	l.Tracef("trace %d", 1)
	l.Debugf("flight %d", 4)
	l.Warn("retransmit")

	out := buf.String()
	if strings.Contains(out, "trace 1") {
		t.Fatalf("trace logged at debug level: %q", out)
	}
	if !strings.Contains(out, "msg=\"flight 4\"") || !strings.Contains(out, "scope=handshake") {
		t.Fatalf("debug line missing: %q", out)
	}
	if !strings.Contains(out, "level=WARN msg=retransmit") {
		t.Fatalf("warn line missing: %q", out)
	}
}
