package main

import (
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	ipfslog "github.com/ipfs/go-log/v2"
	"go.uber.org/zap"

	"github.com/chainbill/invoicenode/pkg/log"
)

var _ log.Logger = &ipfsLogger{}

// NewLogger returns the process logger. The json and logfmt formats of
// INVOICENODE_LOG_FORMAT select a zap logger, anything else the go-log
// subsystem logger.
func NewLogger(name string) log.Logger {
	var conf log.Config
	if err := cleanenv.ReadEnv(&conf); err != nil {
		return NewLoggerIPFS(name)
	}

	switch conf.Format {
	case "json", "logfmt":
		return log.NewZapLogger(conf).WithName(name)
	default:
		return NewLoggerIPFS(name)
	}
}

// NewLoggerIPFS returns a logger registered as a go-log subsystem, so its
// level can be tuned per subsystem with GOLOG_LOG_LEVEL.
func NewLoggerIPFS(name string) log.Logger {
	return &ipfsLogger{
		name: name,
		lg:   ipfslog.Logger(name).SugaredLogger.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar(),
	}
}

type ipfsLogger struct {
	name          string
	lg            *zap.SugaredLogger
	keysAndValues []any
}

func (l *ipfsLogger) Debug(msg string, keysAndValues ...any) {
	l.lg.Debugw(msg, keysAndValues...)
}

func (l *ipfsLogger) Info(msg string, keysAndValues ...any) {
	l.lg.Infow(msg, keysAndValues...)
}

func (l *ipfsLogger) Warn(msg string, keysAndValues ...any) {
	l.lg.Warnw(msg, keysAndValues...)
}

func (l *ipfsLogger) Error(msg string, keysAndValues ...any) {
	l.lg.Errorw(msg, keysAndValues...)
}

func (l *ipfsLogger) Fatal(msg string, keysAndValues ...any) {
	l.lg.Fatalw(msg, keysAndValues...)
}

func (l *ipfsLogger) WithKV(key string, value any) log.Logger {
	kv := make([]any, 0, len(l.keysAndValues)+2)
	kv = append(kv, l.keysAndValues...)
	kv = append(kv, key, value)

	return &ipfsLogger{
		name:          l.name,
		lg:            l.lg.With(key, value),
		keysAndValues: kv,
	}
}

func (l *ipfsLogger) GetAllKV() []any {
	return l.keysAndValues
}

// WithName moves the logger to the subsystem "<name>.<child>", keeping the
// attached pairs.
func (l *ipfsLogger) WithName(name string) log.Logger {
	fullName := name
	if l.name != "" {
		fullName = l.name + "." + name
	}

	return &ipfsLogger{
		name:          fullName,
		lg:            ipfslog.Logger(fullName).SugaredLogger.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar().With(l.keysAndValues...),
		keysAndValues: l.keysAndValues,
	}
}

func (l *ipfsLogger) Name() string {
	return l.name
}

func (l *ipfsLogger) AddCallerSkip(skip int) log.Logger {
	return &ipfsLogger{
		name:          l.name,
		lg:            l.lg.Desugar().WithOptions(zap.AddCallerSkip(skip)).Sugar(),
		keysAndValues: l.keysAndValues,
	}
}

func init() {
	logLevel := os.Getenv("INVOICENODE_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLevel, err := ipfslog.Parse(logLevel)
	if err != nil {
		zapLevel = ipfslog.LevelInfo
	}

	ipfslog.SetupLogging(ipfslog.Config{
		Level:  zapLevel,
		Stderr: true,
	})
}
