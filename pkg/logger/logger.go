package logger

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger представляет интерфейс для структурированного логирования
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	Sync() error
}

// Field представляет поле лога
type Field struct {
	zap.Field
}

// zapLogger реализация логгера на основе zap
type zapLogger struct {
	log *zap.Logger
}

// NewLogger создает новый логгер.
//
// Параметры:
// - environment: окружение (dev, staging, prod)
// - level: уровень логирования (debug, info, warn, error)
// - serviceName: имя сервиса, добавляется во все записи
func NewLogger(environment, level, serviceName string) (Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "info":
		zapLevel = zap.InfoLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	var encoder zapcore.Encoder
	if environment == "dev" {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "time"
		encoderConfig.MessageKey = "msg"
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeDuration = zapcore.SecondsDurationEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.AddSync(os.Stdout),
		zap.NewAtomicLevelAt(zapLevel),
	)

	log := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)).With(
		zap.String("service", serviceName),
		zap.String("environment", environment),
	)

	return &zapLogger{log: log}, nil
}

// NewNop создает логгер, который ничего не пишет. Используется в тестах.
func NewNop() Logger {
	return &zapLogger{log: zap.NewNop()}
}

// Debug записывает отладочное сообщение
func (l *zapLogger) Debug(msg string, fields ...Field) {
	l.log.Debug(msg, unwrap(fields)...)
}

// Info записывает информационное сообщение
func (l *zapLogger) Info(msg string, fields ...Field) {
	l.log.Info(msg, unwrap(fields)...)
}

// Warn записывает предупреждение
func (l *zapLogger) Warn(msg string, fields ...Field) {
	l.log.Warn(msg, unwrap(fields)...)
}

// Error записывает ошибку
func (l *zapLogger) Error(msg string, fields ...Field) {
	l.log.Error(msg, unwrap(fields)...)
}

// With добавляет поля к логгеру и возвращает новый логгер
func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{log: l.log.With(unwrap(fields)...)}
}

// Sync сбрасывает буферы логгера
func (l *zapLogger) Sync() error {
	return l.log.Sync()
}

func unwrap(fields []Field) []zap.Field {
	zapFields := make([]zap.Field, len(fields))
	for i, field := range fields {
		zapFields[i] = field.Field
	}
	return zapFields
}

// String создает поле со строковым значением
func String(key, val string) Field {
	return Field{zap.String(key, val)}
}

// Int создает поле с целочисленным значением
func Int(key string, val int) Field {
	return Field{zap.Int(key, val)}
}

// Int64 создает поле с целочисленным значением типа int64
func Int64(key string, val int64) Field {
	return Field{zap.Int64(key, val)}
}

// Uint64 создает поле с целочисленным значением типа uint64
func Uint64(key string, val uint64) Field {
	return Field{zap.Uint64(key, val)}
}

// Bool создает поле с булевым значением
func Bool(key string, val bool) Field {
	return Field{zap.Bool(key, val)}
}

// Duration создает поле с длительностью
func Duration(key string, val time.Duration) Field {
	return Field{zap.Duration(key, val)}
}

// Time создает поле с временной меткой
func Time(key string, val time.Time) Field {
	return Field{zap.Time(key, val)}
}

// Error создает поле с ошибкой
func Error(err error) Field {
	if err == nil {
		return Field{zap.String("error", "nil")}
	}
	return Field{zap.String("error", err.Error())}
}

// Any создает поле с любым значением
func Any(key string, val interface{}) Field {
	return Field{zap.Any(key, val)}
}
