package peer

import (
	"fmt"
	"log/slog"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/stdnet"
	"github.com/pion/webrtc/v4"
)

// DataChannelLabel is the label of the direct channel the canvas sync layer
// attaches to once the handshake completes.
const DataChannelLabel = "canvas"

// newAPI builds the pion API with our SettingEngine: the standard network
// stack and pion's internal logs routed into slog.
func newAPI(logger *slog.Logger) (*webrtc.API, error) {
	nw, err := stdnet.NewNet()
	if err != nil {
		return nil, fmt.Errorf("peer: create network: %w", err)
	}

	se := webrtc.SettingEngine{
		LoggerFactory: &slogLoggerFactory{base: logger},
	}
	se.SetNet(nw)

	return webrtc.NewAPI(webrtc.WithSettingEngine(se)), nil
}

// slogLoggerFactory adapts pion/logging onto slog so WebRTC internals show
// up in the same stream as everything else.
type slogLoggerFactory struct {
	base *slog.Logger
}

func (f *slogLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	base := f.base
	if base == nil {
		base = slog.Default()
	}
	return &slogLeveledLogger{log: base.With("pion_scope", scope)}
}

type slogLeveledLogger struct {
	log *slog.Logger
}

func (l *slogLeveledLogger) Trace(msg string) { l.log.Debug(msg) }
func (l *slogLeveledLogger) Tracef(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
func (l *slogLeveledLogger) Debug(msg string) { l.log.Debug(msg) }
func (l *slogLeveledLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
func (l *slogLeveledLogger) Info(msg string) { l.log.Info(msg) }
func (l *slogLeveledLogger) Infof(format string, args ...any) {
	l.log.Info(fmt.Sprintf(format, args...))
}
func (l *slogLeveledLogger) Warn(msg string) { l.log.Warn(msg) }
func (l *slogLeveledLogger) Warnf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}
func (l *slogLeveledLogger) Error(msg string) { l.log.Error(msg) }
func (l *slogLeveledLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}
