package main

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/kstaniek/go-bms-bridge/internal/logging"
)

// logOutput lets the console move log lines around its prompt after
// component loggers have already been derived.
type logOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *logOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Write(p)
}

func (o *logOutput) Set(w io.Writer) {
	o.mu.Lock()
	o.w = w
	o.mu.Unlock()
}

var logOut = &logOutput{w: os.Stderr}

// setupLogger installs the global logger. Unknown levels were rejected by
// validate, so ParseLevel cannot fail here.
func setupLogger(format, level string) *slog.Logger {
	lvl, _ := logging.ParseLevel(level)
	l := logging.New(format, lvl, logOut).With("app", "bms-bridge")
	logging.Set(l)
	return l
}
