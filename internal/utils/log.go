// Package utils
package utils

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/amirphl/depth-analytics/internal/journal"
	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

func GetLogger() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stdout)
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	})
	return logger
}

// ConfigureLogger sets the level and, when file is non-empty, mirrors output
// into that file.
func ConfigureLogger(level, file string) error {
	l := GetLogger()

	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		l.SetLevel(lvl)
	}

	if file != "" {
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		l.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	return nil
}

// EventHook turns log entries into journal events so the dashboard can
// stream them.
type EventHook struct {
	broker *journal.Broker
	levels []logrus.Level
}

func NewEventHook(broker *journal.Broker, minLevel logrus.Level) *EventHook {
	var levels []logrus.Level
	for _, lvl := range logrus.AllLevels {
		if lvl <= minLevel {
			levels = append(levels, lvl)
		}
	}
	return &EventHook{broker: broker, levels: levels}
}

func (h *EventHook) Levels() []logrus.Level {
	return h.levels
}

func (h *EventHook) Fire(entry *logrus.Entry) error {
	var data map[string]any
	if len(entry.Data) > 0 {
		data = make(map[string]any, len(entry.Data))
		for k, v := range entry.Data {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			data[k] = v
		}
	}

	h.broker.Publish(journal.Event{
		Time:        entry.Time.UTC(),
		Type:        entry.Level.String(),
		Description: entry.Message,
		Data:        data,
	})
	return nil
}
