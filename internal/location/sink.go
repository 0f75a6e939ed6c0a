package location

// Sink receives the outcomes of a tracking session.
// Calls arrive on the cascade's orchestrator goroutine and must not block
// or call back into the cascade synchronously.
type Sink interface {
	OnFix(fix Fix)
	OnError(kind ErrorKind, stage StageID)
	OnDenied(reason string)
	OnAutoEnabled(stage StageID)
	OnPermissionRequired()
}

// NopSink ignores every event.
type NopSink struct{}

func (NopSink) OnFix(Fix) {}
func (NopSink) OnError(ErrorKind, StageID) {}
func (NopSink) OnDenied(string) {}
func (NopSink) OnAutoEnabled(StageID) {}
func (NopSink) OnPermissionRequired() {}

// Tee fans every event out to each sink in order.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

type tee []Sink

func (t tee) OnFix(fix Fix) {
	for _, s := range t {
		s.OnFix(fix)
	}
}

func (t tee) OnError(kind ErrorKind, stage StageID) {
	for _, s := range t {
		s.OnError(kind, stage)
	}
}

func (t tee) OnDenied(reason string) {
	for _, s := range t {
		s.OnDenied(reason)
	}
}

func (t tee) OnAutoEnabled(stage StageID) {
	for _, s := range t {
		s.OnAutoEnabled(stage)
	}
}

func (t tee) OnPermissionRequired() {
	for _, s := range t {
		s.OnPermissionRequired()
	}
}
