package whatsapp

import (
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

// zapLogger routes whatsmeow's logging through zap.
type zapLogger struct {
	s *zap.SugaredLogger
}

func newLogger(log *zap.Logger) waLog.Logger {
	return zapLogger{s: log.Sugar()}
}

func (z zapLogger) Debugf(msg string, args ...any) { z.s.Debugf(msg, args...) }
func (z zapLogger) Infof(msg string, args ...any)  { z.s.Infof(msg, args...) }
func (z zapLogger) Warnf(msg string, args ...any)  { z.s.Warnf(msg, args...) }
func (z zapLogger) Errorf(msg string, args ...any) { z.s.Errorf(msg, args...) }

func (z zapLogger) Sub(module string) waLog.Logger {
	return zapLogger{s: z.s.Named(module)}
}
