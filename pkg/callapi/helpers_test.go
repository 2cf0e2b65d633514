package callapi_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fivetwenty-io/callapi/pkg/callapi"
)

// MockLogger records log calls.
type MockLogger struct {
	mu   sync.Mutex
	logs []LogEntry
}

// LogEntry is one recorded log call.
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

func (m *MockLogger) Debug(msg string, fields map[string]interface{}) { m.add("DEBUG", msg, fields) }
func (m *MockLogger) Info(msg string, fields map[string]interface{})  { m.add("INFO", msg, fields) }
func (m *MockLogger) Warn(msg string, fields map[string]interface{})  { m.add("WARN", msg, fields) }
func (m *MockLogger) Error(msg string, fields map[string]interface{}) { m.add("ERROR", msg, fields) }

func (m *MockLogger) add(level, msg string, fields map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logs = append(m.logs, LogEntry{Level: level, Message: msg, Fields: fields})
}

// Logs returns a copy of the recorded entries.
func (m *MockLogger) Logs() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]LogEntry(nil), m.logs...)
}

type dispatchCall struct {
	Endpoint   string
	Request    *callapi.RequestDescriptor
	Directives *callapi.CacheDirectives
}

// fakeDispatcher answers every call with respond and records the calls.
type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []dispatchCall
	respond func(endpoint string, req *callapi.RequestDescriptor) *callapi.Envelope[json.RawMessage]
}

func (f *fakeDispatcher) Context() callapi.ExecutionContext {
	return callapi.ClientContext
}

func (f *fakeDispatcher) Do(_ context.Context, endpoint string, req *callapi.RequestDescriptor, directives *callapi.CacheDirectives) *callapi.Envelope[json.RawMessage] {
	f.mu.Lock()
	f.calls = append(f.calls, dispatchCall{Endpoint: endpoint, Request: req, Directives: directives})
	f.mu.Unlock()

	return f.respond(endpoint, req)
}

func (f *fakeDispatcher) Calls() []dispatchCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]dispatchCall(nil), f.calls...)
}

func respondWith(status int, body string) func(string, *callapi.RequestDescriptor) *callapi.Envelope[json.RawMessage] {
	return func(string, *callapi.RequestDescriptor) *callapi.Envelope[json.RawMessage] {
		return callapi.NormalizeResponse(status, "", []byte(body))
	}
}
