package logging

import (
	"github.com/sirupsen/logrus"
)

// BroadcastHook copies info-and-above entries into a Buffer and hands them
// to an optional publish function. Publish must not block or log.
type BroadcastHook struct {
	buffer  *Buffer
	publish func(Line)
}

func NewBroadcastHook(buffer *Buffer, publish func(Line)) *BroadcastHook {
	return &BroadcastHook{buffer: buffer, publish: publish}
}

func (h *BroadcastHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
		logrus.InfoLevel,
	}
}

func (h *BroadcastHook) Fire(entry *logrus.Entry) error {
	line := Line{
		Level:   entry.Level.String(),
		Message: entry.Message,
		Time:    entry.Time,
	}
	if len(entry.Data) > 0 {
		line.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			line.Fields[k] = v
		}
	}

	if h.buffer != nil {
		h.buffer.Add(line)
	}
	if h.publish != nil {
		h.publish(line)
	}
	return nil
}
