package engine

// Sink 接收引擎的日志与事件，*logbus.Bus 满足该接口。
type Sink interface {
	Log(level, message string, fields map[string]any)
	Publish(typ string, data any)
}

type nopSink struct{}

func (nopSink) Log(string, string, map[string]any) {}
func (nopSink) Publish(string, any)                {}

// taskSink 给每条日志附加任务字段。
type taskSink struct {
	sink   Sink
	fields map[string]any
}

func (s taskSink) Log(level, message string, fields map[string]any) {
	merged := make(map[string]any, len(s.fields)+len(fields))
	for k, v := range s.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	s.sink.Log(level, message, merged)
}

func (s taskSink) Publish(typ string, data any) {
	s.sink.Publish(typ, data)
}
