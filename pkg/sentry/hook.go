package sentry

import (
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap/zapcore"

	"github.com/lk2023060901/xdooria-dal/pkg/logger"
)

// 这些字段作为标签，便于在 Sentry 中筛选，其余字段放入 extra
var tagFields = map[string]struct{}{
	"request_id": {},
	"actor":      {},
	"tx_id":      {},
	"code":       {},
	"entity":     {},
	"operation":  {},
	"connection": {},
}

// LogHook 返回日志钩子，达到 MinLevel 的日志作为事件上报，日志照常写出
func (c *Client) LogHook() logger.Hook {
	minLevel := zapcore.ErrorLevel
	if err := minLevel.UnmarshalText([]byte(c.cfg.MinLevel)); err != nil || minLevel < zapcore.ErrorLevel {
		minLevel = zapcore.ErrorLevel
	}

	return logger.HookFunc(func(entry zapcore.Entry, fields []zapcore.Field) bool {
		if entry.Level < minLevel || !c.Enabled() {
			return true
		}

		enc := zapcore.NewMapObjectEncoder()
		for _, f := range fields {
			f.AddTo(enc)
		}

		event := sentry.NewEvent()
		event.Level = level(entry.Level)
		event.Message = entry.Message
		event.Logger = entry.LoggerName
		event.Timestamp = entry.Time
		event.Tags = make(map[string]string)
		event.Extra = make(map[string]interface{})
		for k, v := range enc.Fields {
			if _, ok := tagFields[k]; ok {
				if s, ok := v.(string); ok {
					event.Tags[k] = s
					continue
				}
			}
			event.Extra[k] = v
		}
		if entry.Caller.Defined {
			event.Extra["caller"] = entry.Caller.TrimmedPath()
		}

		if c.hub.CaptureEvent(event) != nil {
			c.captured.Add(1)
		}
		return true
	})
}

func level(l zapcore.Level) sentry.Level {
	switch {
	case l >= zapcore.FatalLevel:
		return sentry.LevelFatal
	case l >= zapcore.ErrorLevel:
		return sentry.LevelError
	case l == zapcore.WarnLevel:
		return sentry.LevelWarning
	default:
		return sentry.LevelInfo
	}
}
