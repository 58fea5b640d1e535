package logbus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Message struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
	Data any    `json:"data"`
}

type LogData struct {
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Bus 保留最近 cap 条消息并广播给订阅者，慢订阅者会丢消息而不是阻塞发布方。
type Bus struct {
	mu     sync.RWMutex
	ring   []Message
	head   int
	size   int
	subs   map[chan Message]struct{}
	closed bool
	mirror *zap.Logger
}

type Option func(*Bus)

// WithMirror 把每条 Log 同步写到 zap。
func WithMirror(l *zap.Logger) Option {
	return func(b *Bus) { b.mirror = l }
}

func New(capacity int, opts ...Option) *Bus {
	if capacity <= 0 {
		capacity = 200
	}
	b := &Bus{
		ring: make([]Message, capacity),
		subs: make(map[chan Message]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.ring = nil
	b.size = 0
}

// Snapshot 按时间顺序返回缓冲区内容。
func (b *Bus) Snapshot() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, 0, b.size)
	start := (b.head - b.size + len(b.ring)) % max(len(b.ring), 1)
	for i := 0; i < b.size; i++ {
		out = append(out, b.ring[(start+i)%len(b.ring)])
	}
	return out
}

func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

func (b *Bus) Publish(typ string, data any) {
	msg := Message{
		Type: typ,
		Time: time.Now().UnixMilli(),
		Data: data,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.ring[b.head] = msg
	b.head = (b.head + 1) % len(b.ring)
	if b.size < len(b.ring) {
		b.size++
	}
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (b *Bus) Log(level, message string, fields map[string]any) {
	if b.mirror != nil {
		b.mirror.Log(zapLevel(level), message, zapFields(fields)...)
	}
	b.Publish("log", LogData{Level: level, Msg: message, Fields: fields})
}

// Scoped 返回一个在每条日志上附带固定字段的记录器，例如 taskId。
func (b *Bus) Scoped(fields map[string]any) *Scoped {
	return &Scoped{bus: b, base: fields}
}

type Scoped struct {
	bus  *Bus
	base map[string]any
}

func (s *Scoped) Log(level, message string, fields map[string]any) {
	merged := make(map[string]any, len(s.base)+len(fields))
	for k, v := range s.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	s.bus.Log(level, message, merged)
}

func (s *Scoped) Publish(typ string, data any) {
	s.bus.Publish(typ, data)
}
