// internal/chaos/engine.go
package chaos

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/libranexus/lending/internal/logging"
)

// ErrSteadyStateInvalid aborts an experiment whose probes fail before any fault is injected.
var ErrSteadyStateInvalid = errors.New("steady state invalid - aborting experiment")

// Experiment defines a chaos engineering test against the lending workflow.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Probe
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	// Duration bounds the observation phase; Sample is the probe interval within it.
	Duration time.Duration
	Sample   time.Duration
}

// Probe is a measurable system property.
type Probe struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Holds reports whether value satisfies the threshold.
func (t Threshold) Holds(value float64) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	}
	return false
}

// Action is a fault injection or recovery step.
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion validates the final observation of a probe.
type Assertion struct {
	Probe     string
	Condition func(float64) bool
	Message   string
}

// Result captures one experiment execution.
type Result struct {
	Experiment       string                 `json:"experiment"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []Violation            `json:"violations"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	FailedAssertions []string               `json:"failed_assertions,omitempty"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type Violation struct {
	Probe     string    `json:"probe"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine runs experiments and keeps their results.
type Engine struct {
	tracer      trace.Tracer
	now         func() time.Time
	experiments []Experiment
	results     []Result
	mu          sync.Mutex
}

func NewEngine() *Engine {
	return &Engine{
		tracer: otel.Tracer("libranexus/chaos"),
		now:    time.Now,
	}
}

func (e *Engine) Register(exps ...Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exps...)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes one experiment: steady state, fault injection, observation,
// rollback, then the hypothesis assertions.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)))
	defer span.End()

	result := &Result{
		Experiment:   exp.Name,
		StartTime:    e.now(),
		Observations: make(map[string][]DataPoint),
		ErrorEvents:  make([]ErrorEvent, 0),
	}

	span.AddEvent("validating_steady_state")
	if violations := e.steadyState(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{Timestamp: e.now(), Error: err.Error(), Component: action.Target})
			span.RecordError(err)
		}
	}

	span.AddEvent("observing_system")
	rec := &recovery{}
	e.observe(ctx, exp, result, rec)

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{Timestamp: e.now(), Error: err.Error(), Component: action.Target})
			span.RecordError(err)
		}
	}
	// One final sample after rollback so assertions see the recovered state.
	e.sample(ctx, exp.SteadyState, result, rec)

	span.AddEvent("validating_assertions")
	result.HypothesisHeld = e.assert(exp.Validation, result)
	result.EndTime = e.now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

type recovery struct {
	start     time.Time
	recovered bool
}

func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result, rec *recovery) {
	if exp.Duration <= 0 {
		return
	}
	every := exp.Sample
	if every <= 0 {
		every = time.Second
	}
	obsCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-obsCtx.Done():
			return
		case <-ticker.C:
			e.sample(ctx, exp.SteadyState, result, rec)
		}
	}
}

func (e *Engine) sample(ctx context.Context, probes []Probe, result *Result, rec *recovery) {
	for _, p := range probes {
		value, err := p.Query(ctx)
		now := e.now()
		if err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{Timestamp: now, Error: err.Error(), Component: p.Name})
			continue
		}
		result.Observations[p.Name] = append(result.Observations[p.Name], DataPoint{Timestamp: now, Value: value})

		if !p.Threshold.Holds(value) {
			result.Violations = append(result.Violations, Violation{Probe: p.Name, Expected: p.Threshold.Value, Actual: value, Timestamp: now})
			if rec.start.IsZero() {
				rec.start = now
			}
		} else if !rec.start.IsZero() && !rec.recovered {
			mttr := now.Sub(rec.start)
			result.MTTR = &mttr
			rec.recovered = true
		}
	}
}

func (e *Engine) steadyState(ctx context.Context, probes []Probe) []Violation {
	var violations []Violation
	for _, p := range probes {
		value, err := p.Query(ctx)
		if err != nil {
			violations = append(violations, Violation{Probe: p.Name, Expected: p.Threshold.Value, Actual: -1, Timestamp: e.now()})
			continue
		}
		if !p.Threshold.Holds(value) {
			violations = append(violations, Violation{Probe: p.Name, Expected: p.Threshold.Value, Actual: value, Timestamp: e.now()})
		}
	}
	return violations
}

func (e *Engine) assert(assertions []Assertion, result *Result) bool {
	held := true
	for _, a := range assertions {
		obs := result.Observations[a.Probe]
		if len(obs) == 0 || !a.Condition(obs[len(obs)-1].Value) {
			result.FailedAssertions = append(result.FailedAssertions, a.Message)
			held = false
		}
	}
	return held
}

// GameDay is a series of experiments run back to back.
type GameDay struct {
	Name      string
	Date      time.Time
	Scenarios []Experiment
	// Pause separates consecutive experiments.
	Pause time.Duration
}

// ExecuteGameDay runs every scenario and reports whether all hypotheses held.
func (e *Engine) ExecuteGameDay(ctx context.Context, day GameDay) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", day.Name)))
	defer span.End()

	logger := logging.FromContext(ctx).With("component", "chaos", "game_day", day.Name)
	logger.Info("game day started", "date", day.Date, "scenarios", len(day.Scenarios))

	allHeld := true
	for i, scenario := range day.Scenarios {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		log := logger.With("experiment", scenario.Name, "index", i+1)
		log.Info("experiment started", "hypothesis", scenario.Hypothesis)

		result, err := e.Run(ctx, scenario)
		if err != nil {
			log.Error("experiment aborted", "error", err, "violations", len(result.Violations))
			allHeld = false
			continue
		}
		report(log, result)
		allHeld = allHeld && result.HypothesisHeld

		if day.Pause > 0 && i < len(day.Scenarios)-1 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(day.Pause):
			}
		}
	}
	return allHeld, nil
}

func report(log *slog.Logger, r *Result) {
	attrs := []any{
		"hypothesis_held", r.HypothesisHeld,
		"violations", len(r.Violations),
		"errors", len(r.ErrorEvents),
		"duration", r.Duration,
	}
	if r.MTTR != nil {
		attrs = append(attrs, "mttr", *r.MTTR)
	}
	if r.HypothesisHeld {
		log.Info("hypothesis held", attrs...)
		return
	}
	log.Warn("hypothesis violated", append(attrs, "failed_assertions", r.FailedAssertions)...)
}
