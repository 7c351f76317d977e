package engine

// Sink receives realtime lifecycle emits for the messaging layer. It is bound
// once at service start and must tolerate being called from any goroutine.
// Emits are strictly best-effort: a Sink must never be able to fail a
// lifecycle transition.
type Sink interface {
	Publish(evtType string, payload map[string]any)
}

// NopSink discards all emits.
type NopSink struct{}

func (NopSink) Publish(string, map[string]any) {}
