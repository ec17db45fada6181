package state

import "log/slog"

// Level separates notices a user can ignore from ones that need action.
type Level int

const (
	// LevelTransient is a non-blocking notice.
	LevelTransient Level = iota
	// LevelPersistent means data is at risk and the user should export or back up.
	LevelPersistent
)

func (l Level) String() string {
	if l == LevelPersistent {
		return "persistent"
	}
	return "transient"
}

// Notification is a user-facing message.
type Notification struct {
	Level   Level
	Message string
	Err     error
}

// Notifier delivers notifications to whatever UI is attached.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(n Notification) {
	attrs := []any{slog.String("level", n.Level.String())}
	if n.Err != nil {
		attrs = append(attrs, slog.String("error", n.Err.Error()))
	}
	if n.Level == LevelPersistent {
		l.Logger.Warn(n.Message, attrs...)
		return
	}
	l.Logger.Info(n.Message, attrs...)
}
