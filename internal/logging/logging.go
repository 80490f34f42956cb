// This file sets up the process logger: slog with a tint handler, source
// locations trimmed to paths inside the module.

package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"amsd/internal/config"
)

// moduleRoot is the directory source paths are reported relative to.
var moduleRoot = findModuleRoot()

func findModuleRoot() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	// this file lives in <root>/internal/logging
	return filepath.Dir(filepath.Dir(filepath.Dir(file)))
}

// NewHandler returns a tint handler writing to w.
func NewHandler(w io.Writer, cfg config.LoggingConfig) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:       cfg.SlogLevel(),
		AddSource:   true,
		NoColor:     cfg.NoColor,
		TimeFormat:  time.RFC3339,
		ReplaceAttr: trimSource,
	})
}

// Init installs a stderr logger as the slog default and returns it.
func Init(cfg config.LoggingConfig) *slog.Logger {
	logger := slog.New(NewHandler(os.Stderr, cfg))
	slog.SetDefault(logger)
	return logger
}

func trimSource(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	source, ok := a.Value.Any().(*slog.Source)
	if !ok || moduleRoot == "" {
		return a
	}
	if rel, ok := strings.CutPrefix(source.File, moduleRoot+string(filepath.Separator)); ok {
		source.File = rel
	}
	return slog.Any(a.Key, source)
}
