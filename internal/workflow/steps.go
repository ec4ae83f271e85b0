package workflow

import (
	"log/slog"
	"sync"
)

// Step is one position in the manuscript review sequence. MANUAL_AUTHOR is a
// side branch: entering it never changes the instance's current step.
type Step string

const (
	StepUpload             Step = "UPLOAD"
	StepMetadataExtraction Step = "METADATA_EXTRACTION"
	StepKeywordEnhancement Step = "KEYWORD_ENHANCEMENT"
	StepDatabaseSearch     Step = "DATABASE_SEARCH"
	StepManualAuthor       Step = "MANUAL_AUTHOR"
	StepValidation         Step = "VALIDATION"
	StepRecommendations    Step = "RECOMMENDATIONS"
	StepExport             Step = "EXPORT"
)

// stepOrder is the main sequence; MANUAL_AUTHOR sits outside it
var stepOrder = []Step{
	StepUpload,
	StepMetadataExtraction,
	StepKeywordEnhancement,
	StepDatabaseSearch,
	StepValidation,
	StepRecommendations,
	StepExport,
}

// Progress tracks which operations have completed for one instance; guard
// predicates read it to decide whether the next step is eligible
type Progress struct {
	Uploaded            bool
	KeywordsEnhanced    bool
	SearchCompleted     bool
	ValidationCompleted bool
}

// StateMachine holds the current step per workflow instance. Completing an
// operation never advances the step; it only satisfies a guard. Advancing is
// an explicit action, and an unsatisfied guard makes it a silent no-op.
type StateMachine struct {
	logger *slog.Logger

	mu       sync.Mutex
	current  map[string]Step
	progress map[string]*Progress
}

// NewStateMachine creates an empty state machine; instances start at UPLOAD
func NewStateMachine(logger *slog.Logger) *StateMachine {
	return &StateMachine{
		logger:   logger,
		current:  make(map[string]Step),
		progress: make(map[string]*Progress),
	}
}

// Current returns the instance's current step
func (m *StateMachine) Current(instance string) Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	if step, ok := m.current[instance]; ok {
		return step
	}
	return StepUpload
}

// Progress returns a copy of the instance's completion flags
func (m *StateMachine) Progress(instance string) Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.progress[instance]; p != nil {
		return *p
	}
	return Progress{}
}

// MarkCompleted records a finished operation for the instance so the guard
// for the following step can pass
func (m *StateMachine) MarkCompleted(instance string, update func(*Progress)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.progress[instance]
	if p == nil {
		p = &Progress{}
		m.progress[instance] = p
	}
	update(p)
}

// guardSatisfied reports whether target's entry guard holds for the
// instance's recorded progress
func guardSatisfied(target Step, p Progress) bool {
	switch target {
	case StepUpload:
		return true
	case StepMetadataExtraction:
		return p.Uploaded
	case StepKeywordEnhancement:
		return p.Uploaded
	case StepDatabaseSearch:
		return p.KeywordsEnhanced
	case StepValidation:
		return p.SearchCompleted
	case StepRecommendations:
		return p.ValidationCompleted
	case StepExport:
		return p.ValidationCompleted
	default:
		return false
	}
}

// stepIndex returns target's position in the main sequence, or -1
func stepIndex(target Step) int {
	for i, step := range stepOrder {
		if step == target {
			return i
		}
	}
	return -1
}

// CanEnterManualAuthor reports whether the side branch is reachable: it
// hangs off DATABASE_SEARCH and VALIDATION only
func (m *StateMachine) CanEnterManualAuthor(instance string) bool {
	current := m.Current(instance)
	return current == StepDatabaseSearch || current == StepValidation
}

// Advance moves the instance's current step to target if target is adjacent
// in the sequence and its guard is satisfied. An ineligible advance is a
// no-op and reports false; it never errors, since callers are expected to
// not offer unavailable transitions in the first place.
func (m *StateMachine) Advance(instance string, target Step) bool {
	if target == StepManualAuthor {
		// the side branch never becomes current
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.current[instance]
	if !ok {
		current = StepUpload
	}

	from, to := stepIndex(current), stepIndex(target)
	if to < 0 || to != from+1 {
		m.logger.Debug("Step advance refused: not adjacent",
			slog.String("instance", instance),
			slog.String("current", string(current)),
			slog.String("target", string(target)),
		)
		return false
	}

	var p Progress
	if stored := m.progress[instance]; stored != nil {
		p = *stored
	}
	if !guardSatisfied(target, p) {
		m.logger.Debug("Step advance refused: guard unsatisfied",
			slog.String("instance", instance),
			slog.String("target", string(target)),
		)
		return false
	}

	m.current[instance] = target
	m.logger.Info("Workflow step advanced",
		slog.String("instance", instance),
		slog.String("from", string(current)),
		slog.String("to", string(target)),
	)
	return true
}

// Reset returns the instance to UPLOAD with no recorded progress
func (m *StateMachine) Reset(instance string) {
	m.mu.Lock()
	delete(m.current, instance)
	delete(m.progress, instance)
	m.mu.Unlock()
}
