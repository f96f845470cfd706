package observe

import (
	"io"
	"log/slog"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func timeoutCh() <-chan time.Time {
	return time.After(time.Second)
}
