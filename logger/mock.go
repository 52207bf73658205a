package logger

import (
	"github.com/stretchr/testify/mock"
)

// MockLogger is a testify mock of Logger.
//
// Every call must be expected with On, unless Permissive was called. With
// returns the mock itself unless an expectation for "With" says otherwise, so
// child loggers created by a component report to the same mock.
type MockLogger struct {
	mock.Mock

	level LogLevel
}

var _ Logger = (*MockLogger)(nil)

func NewMockLogger() *MockLogger {
	return &MockLogger{level: DebugLevel}
}

// Permissive accepts any log call at any level, so tests can assert only the
// calls they care about with AssertCalled or AssertNumberOfCalls.
func (m *MockLogger) Permissive() *MockLogger {
	for _, method := range []string{"Debug", "Info", "Warn", "Error", "Fatal"} {
		m.On(method, mock.Anything, mock.Anything).Maybe()
	}
	m.On("SetLevel", mock.Anything).Maybe()

	return m
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Info(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Warn(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Error(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Fatal(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) SetLevel(level LogLevel) {
	m.Called(level)
	m.level = level
}

// Level returns the last level set, DebugLevel initially, so a sink logger
// wrapping the mock forwards every record.
func (m *MockLogger) Level() LogLevel {
	return m.level
}

func (m *MockLogger) With(keyValues ...any) Logger {
	for _, c := range m.ExpectedCalls {
		if c.Method == "With" {
			args := m.Called(keyValues)
			return args.Get(0).(Logger)
		}
	}

	return m
}
