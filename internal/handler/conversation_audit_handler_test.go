package handler

import (
	"context"
	"testing"
	"time"

	"biblestudy-be/pkg/events"

	"github.com/stretchr/testify/assert"
)

type recordedLog struct {
	level   string
	module  string
	details map[string]interface{}
}

type recordingLogger struct {
	entries []recordedLog
}

func (l *recordingLogger) record(level, module string, details map[string]interface{}) {
	l.entries = append(l.entries, recordedLog{level: level, module: module, details: details})
}

func (l *recordingLogger) Debug(module, message string, details map[string]interface{}) {
	l.record("debug", module, details)
}
func (l *recordingLogger) Info(module, message string, details map[string]interface{}) {
	l.record("info", module, details)
}
func (l *recordingLogger) Warn(module, message string, details map[string]interface{}) {
	l.record("warn", module, details)
}
func (l *recordingLogger) Error(module, message string, details map[string]interface{}) {
	l.record("error", module, details)
}
func (l *recordingLogger) Sync() error { return nil }

func TestConversationAuditHandler_Handle(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		wantLevel string
		wantLogs  int
	}{
		{"crisis support", events.TypeConversationCrisisSupport, "warn", 1},
		{"user blocked", events.TypeConversationUserBlocked, "warn", 1},
		{"budget", events.TypeConversationBudgetExceeded, "info", 1},
		{"answered", events.TypeConversationAnswered, "debug", 1},
		{"unrelated", "NOTE_CREATED", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &recordingLogger{}
			h := NewConversationAuditHandler(log)

			err := h.Handle(context.Background(), events.BaseEvent{
				Type:       tt.eventType,
				Data:       map[string]interface{}{"user_id": "u-1"},
				OccurredAt: time.Now(),
			})
			assert.NoError(t, err)
			assert.Len(t, log.entries, tt.wantLogs)
			if tt.wantLogs > 0 {
				assert.Equal(t, tt.wantLevel, log.entries[0].level)
				assert.Equal(t, "AUDIT", log.entries[0].module)
				assert.Equal(t, tt.eventType, log.entries[0].details["event"])
				assert.Equal(t, "u-1", log.entries[0].details["user_id"])
			}
		})
	}
}
