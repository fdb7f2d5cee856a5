package services

import (
	"context"
	"sync"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
)

// MockAuditRecorder implements AuditRecorder for testing. Every logged event
// is kept in order.
type MockAuditRecorder struct {
	LogEventFunc func(ctx context.Context, params models.AuditEventParams) string

	mu     sync.Mutex
	events []models.AuditEventParams
}

func (m *MockAuditRecorder) LogEvent(ctx context.Context, params models.AuditEventParams) string {
	m.mu.Lock()
	m.events = append(m.events, params)
	m.mu.Unlock()

	if m.LogEventFunc != nil {
		return m.LogEventFunc(ctx, params)
	}
	return string(params.Event)
}

// Events returns a copy of the recorded events.
func (m *MockAuditRecorder) Events() []models.AuditEventParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AuditEventParams, len(m.events))
	copy(out, m.events)
	return out
}

// EventsOf returns the recorded events of the given type.
func (m *MockAuditRecorder) EventsOf(event models.AuditEvent) []models.AuditEventParams {
	var out []models.AuditEventParams
	for _, e := range m.Events() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// MockNotifier implements AdminNotifier for testing
type MockNotifier struct {
	NotifyAdminsFunc func(ctx context.Context, subject, body string) error

	mu       sync.Mutex
	subjects []string
}

func (m *MockNotifier) NotifyAdmins(ctx context.Context, subject, body string) error {
	m.mu.Lock()
	m.subjects = append(m.subjects, subject)
	m.mu.Unlock()

	if m.NotifyAdminsFunc != nil {
		return m.NotifyAdminsFunc(ctx, subject, body)
	}
	return nil
}

// Subjects returns the subjects of every notification sent so far.
func (m *MockNotifier) Subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.subjects))
	copy(out, m.subjects)
	return out
}
