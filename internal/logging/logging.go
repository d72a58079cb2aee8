// Package logging は設定に応じたslog.Loggerを生成する。
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger はレベルと出力形式を指定して標準出力へのロガーを生成する。
func NewLogger(level string, json bool) *slog.Logger {
	return New(os.Stdout, level, json)
}

// New はwへ出力するロガーを生成する。不明なレベルはinfoとして扱う。
func New(w io.Writer, level string, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel はレベル名をslog.Levelに変換する。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
