package analyze

import (
	"sort"
	"sync"
)

type TraceEventKind string

const (
	TraceEventStageTiming TraceEventKind = "stage_timing"
	TraceEventStageError  TraceEventKind = "stage_error"
	TraceEventDebugValue  TraceEventKind = "debug_value"
)

// TraceEvent is an extensible event envelope for pipeline tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	Stage      string
	DurationMs int64
	Error      string

	DebugKey   string
	DebugValue any
}

// Tracer is a sink for pipeline tracing events.
//
// Implementers can forward events to logs, telemetry, or custom
// post-processing pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func RecordStageTiming(t Tracer, stage string, durationMs int64) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventStageTiming, Stage: stage, DurationMs: durationMs})
}

func RecordStageError(t Tracer, stage, msg string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventStageError, Stage: stage, Error: msg})
}

func RecordDebugValue(t Tracer, key string, value any) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventDebugValue, DebugKey: key, DebugValue: value})
}

// AnalyzeTrace collects stage timings, non-fatal stage errors, and debug
// values during a pipeline run.
//
// Mode stages run concurrently and record through the same trace, so the
// response assembly reads one consistent snapshot at the end.
//
// AnalyzeTrace is safe for concurrent use.
type AnalyzeTrace struct {
	mu sync.Mutex

	timings map[string]int64
	errors  []StageError
	debug   map[string]any
}

type AnalyzeTraceSnapshot struct {
	Timings map[string]int64
	Errors  []StageError
	Debug   map[string]any
}

func NewAnalyzeTrace() *AnalyzeTrace {
	return &AnalyzeTrace{
		timings: make(map[string]int64),
		debug:   make(map[string]any),
	}
}

func (t *AnalyzeTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventStageTiming:
		if event.Stage == "" {
			return
		}
		t.timings[event.Stage+"_ms"] = event.DurationMs
	case TraceEventStageError:
		if event.Stage == "" || event.Error == "" {
			return
		}
		t.errors = append(t.errors, StageError{Stage: event.Stage, Msg: event.Error})
	case TraceEventDebugValue:
		if event.DebugKey == "" {
			return
		}
		t.debug[event.DebugKey] = event.DebugValue
	default:
		return
	}
}

func (t *AnalyzeTrace) Snapshot() AnalyzeTraceSnapshot {
	if t == nil {
		return AnalyzeTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := AnalyzeTraceSnapshot{
		Timings: make(map[string]int64, len(t.timings)),
		Errors:  make([]StageError, len(t.errors)),
		Debug:   make(map[string]any, len(t.debug)),
	}

	for stage, ms := range t.timings {
		s.Timings[stage] = ms
	}
	copy(s.Errors, t.errors)
	for key, value := range t.debug {
		s.Debug[key] = value
	}

	// Error order is deterministic for response payloads: stages sort
	// alphabetically, entries within a stage keep arrival order.
	sort.SliceStable(s.Errors, func(i, j int) bool {
		return s.Errors[i].Stage < s.Errors[j].Stage
	})

	return s
}
