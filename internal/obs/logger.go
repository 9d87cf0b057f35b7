// Copyright 2025 James Ross
package obs

import (
    "strings"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
    "gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds a zap.Logger writing JSON to stderr. Use NewFileLogger
// instead when the required log_file config key (§6) should back a
// rotating file sink.
func NewLogger(level string) (*zap.Logger, error) {
    cfg := zap.NewProductionConfig()
    cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
    cfg.Encoding = "json"
    return cfg.Build()
}

// NewFileLogger builds a zap.Logger that writes JSON-encoded entries to a
// rotating file sink at logFile (§6's required log_file config key),
// mirroring the teacher's lumberjack-backed audit sink.
func NewFileLogger(level, logFile string, maxSizeMB, maxBackups int, compress bool) *zap.Logger {
    sink := &lumberjack.Logger{
        Filename:   logFile,
        MaxSize:    maxSizeMB,
        MaxBackups: maxBackups,
        Compress:   compress,
    }
    encoderCfg := zap.NewProductionEncoderConfig()
    encoderCfg.TimeKey = "ts"
    encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
    core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(sink), parseLevel(level))
    return zap.New(core)
}

func parseLevel(level string) zapcore.Level {
    switch strings.ToLower(level) {
    case "debug":
        return zapcore.DebugLevel
    case "warn":
        return zapcore.WarnLevel
    case "error":
        return zapcore.ErrorLevel
    default:
        return zapcore.InfoLevel
    }
}

// Convenience typed fields
func String(k, v string) zap.Field { return zap.String(k, v) }
func Int(k string, v int) zap.Field { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Err(err error) zap.Field { return zap.Error(err) }
