// Package notify delivers user-facing toasts. Delivery is fire-and-forget:
// nothing in the sync path waits for or depends on a notification.
package notify

import (
	"context"
	"sync"
	"time"

	"pos-sync/internal/util"

	"go.uber.org/zap"
)

// Levels
const (
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelInfo    = "info"
)

// Sink receives toasts
type Sink interface {
	Success(msg string)
	Warning(msg string)
	Error(msg string)
	Info(msg string)
}

// Notification is one toast
type Notification struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Nop discards every toast
type Nop struct{}

func (Nop) Success(string) {}
func (Nop) Warning(string) {}
func (Nop) Error(string)   {}
func (Nop) Info(string)    {}

// Multi fans a toast out to every sink in order
type Multi []Sink

func (m Multi) Success(msg string) {
	for _, s := range m {
		s.Success(msg)
	}
}

func (m Multi) Warning(msg string) {
	for _, s := range m {
		s.Warning(msg)
	}
}

func (m Multi) Error(msg string) {
	for _, s := range m {
		s.Error(msg)
	}
}

func (m Multi) Info(msg string) {
	for _, s := range m {
		s.Info(msg)
	}
}

// LogSink writes toasts to the structured log
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new log sink
func NewLogSink() *LogSink {
	return &LogSink{logger: util.ComponentLogger("notify")}
}

func (s *LogSink) Success(msg string) { s.logger.Info(msg, zap.String("level", LevelSuccess)) }
func (s *LogSink) Warning(msg string) { s.logger.Warn(msg, zap.String("level", LevelWarning)) }
func (s *LogSink) Error(msg string)   { s.logger.Error(msg, zap.String("level", LevelError)) }
func (s *LogSink) Info(msg string)    { s.logger.Info(msg, zap.String("level", LevelInfo)) }

// Publisher is the event transport used by BrokerSink
type Publisher interface {
	PublishNotification(ctx context.Context, level, message string) error
}

// BrokerSink mirrors toasts to the back office event stream
type BrokerSink struct {
	publisher Publisher
	timeout   time.Duration
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewBrokerSink creates a new broker sink
func NewBrokerSink(publisher Publisher, timeout time.Duration) *BrokerSink {
	return &BrokerSink{
		publisher: publisher,
		timeout:   timeout,
		logger:    util.ComponentLogger("notify"),
	}
}

func (s *BrokerSink) Success(msg string) { s.publish(LevelSuccess, msg) }
func (s *BrokerSink) Warning(msg string) { s.publish(LevelWarning, msg) }
func (s *BrokerSink) Error(msg string)   { s.publish(LevelError, msg) }
func (s *BrokerSink) Info(msg string)    { s.publish(LevelInfo, msg) }

// Wait blocks until in-flight publishes have finished
func (s *BrokerSink) Wait() {
	s.wg.Wait()
}

func (s *BrokerSink) publish(level, msg string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := s.publisher.PublishNotification(ctx, level, msg); err != nil {
			s.logger.Warn("Failed to publish notification",
				zap.String("level", level),
				zap.Error(err))
		}
	}()
}

// Stream hands toasts to live subscribers such as the till's event stream
type Stream struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Notification)
	now    func() time.Time
}

// NewStream creates a new stream
func NewStream() *Stream {
	return &Stream{subs: make(map[int]func(Notification)), now: time.Now}
}

// Subscribe registers fn for every toast
func (s *Stream) Subscribe(fn func(Notification)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Stream) Success(msg string) { s.emit(LevelSuccess, msg) }
func (s *Stream) Warning(msg string) { s.emit(LevelWarning, msg) }
func (s *Stream) Error(msg string)   { s.emit(LevelError, msg) }
func (s *Stream) Info(msg string)    { s.emit(LevelInfo, msg) }

func (s *Stream) emit(level, msg string) {
	n := Notification{Level: level, Message: msg, Timestamp: s.now().UTC()}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.subs {
		fn(n)
	}
}
