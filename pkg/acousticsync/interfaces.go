package acousticsync

import (
	"github.com/himanishpuri/AcousticSync/pkg/logger"
	"github.com/himanishpuri/AcousticSync/pkg/models"
)

// ResultStore persists alignments once a clip is matched.
type ResultStore interface {
	SaveAlignment(a models.Alignment) (string, error)
	GetAlignment(id string) (models.Alignment, error)
	ListAlignments(masterPath string) ([]models.Alignment, error)
	DeleteAlignment(id string) error
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

type prefixLogger struct {
	log    Logger
	prefix string
}

// withPrefix tags every line of log with prefix. The package logger gets a
// child through With; other loggers are wrapped.
func withPrefix(log Logger, prefix string) Logger {
	if l, ok := log.(*logger.Logger); ok {
		return l.With(prefix)
	}
	return &prefixLogger{log: log, prefix: "[" + prefix + "] "}
}

func (l *prefixLogger) Infof(format string, args ...any)  { l.log.Infof(l.prefix+format, args...) }
func (l *prefixLogger) Warnf(format string, args ...any)  { l.log.Warnf(l.prefix+format, args...) }
func (l *prefixLogger) Errorf(format string, args ...any) { l.log.Errorf(l.prefix+format, args...) }
func (l *prefixLogger) Debugf(format string, args ...any) { l.log.Debugf(l.prefix+format, args...) }
