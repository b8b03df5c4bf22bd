package log

import "context"

// Logger 日志接口
type Logger interface {
	// 基础日志方法
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// 带上下文的日志方法
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	// 带字段的日志器
	With(args ...any) Logger
	WithGroup(name string) Logger
}

var defaultLogger Logger

func init() {
	slog, err := NewSLogWithOptions(&SLogOptions{
		Level:  "info",
		Format: "text",
	})
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	defaultLogger = slog
}

func Default() Logger {
	return defaultLogger
}

// NewLoggerWithOptions 创建 Logger，options 为 nil 时返回默认 Logger
func NewLoggerWithOptions(options *SLogOptions) (Logger, error) {
	if options == nil {
		return defaultLogger, nil
	}
	return NewSLogWithOptions(options)
}
