package service

import (
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"

	"github.com/cervicel-cytology-server/internal/domain"
)

// Expected-cell pattern sources reported alongside the pattern.
const (
	SourceCondition = "condition"
	SourcePhase     = "phase"
	SourceCategory  = "age_category"
	SourceNone      = "none"
)

const (
	miNoCellsText       = "No MI cells detected"
	miNotApplicableText = "Pregnancy detected - age-based MI not applicable"
)

// CytologyRuleEngine interprets cell counts against the static cytology rule tables.
// It holds no per-request state and is safe for concurrent use.
type CytologyRuleEngine struct {
	logger *logrus.Logger
	tables *RuleTables
	now    func() time.Time
}

// EngineOption configures a CytologyRuleEngine.
type EngineOption func(*CytologyRuleEngine)

// WithClock replaces the wall clock used to resolve "today" for phase calculation.
func WithClock(now func() time.Time) EngineOption {
	return func(e *CytologyRuleEngine) {
		e.now = now
	}
}

// WithRuleTables replaces the default rule tables.
func WithRuleTables(tables *RuleTables) EngineOption {
	return func(e *CytologyRuleEngine) {
		e.tables = tables
	}
}

// NewCytologyRuleEngine creates a new cytology rule engine
func NewCytologyRuleEngine(logger *logrus.Logger, opts ...EngineOption) *CytologyRuleEngine {
	engine := &CytologyRuleEngine{
		logger: logger,
		tables: DefaultRuleTables(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// Tables returns the rule tables the engine evaluates.
func (e *CytologyRuleEngine) Tables() *RuleTables {
	return e.tables
}

// Today returns the current calendar date according to the engine clock.
func (e *CytologyRuleEngine) Today() time.Time {
	return calendarDate(e.now())
}

// Interpret validates the patient input and builds the interpretation report.
func (e *CytologyRuleEngine) Interpret(input *domain.PatientInput, counts domain.CellCounts) (*domain.Report, error) {
	if err := e.validate(input, counts); err != nil {
		return nil, err
	}

	category := e.tables.ClassifyAge(input.AgeDays)
	condition := domain.ParseCondition(input.Condition)

	phase := domain.PhaseNotApplicable
	if category == domain.AgeReproductive && input.LMPDate != nil {
		p, err := CalculatePhase(*input.LMPDate, e.now(), input.EffectiveCycleLength())
		if err != nil {
			return nil, fmt.Errorf("calculating menstrual phase: %w", err)
		}
		phase = p
	}

	var mi domain.MaturationIndex
	if condition == domain.ConditionPregnancy {
		mi = domain.MaturationIndex{Status: domain.MINotApplicable, Interpretation: miNotApplicableText}
	} else {
		mi = CalculateMaturationIndex(counts)
	}

	analysis := e.tables.AnalyzeNonMI(counts, input.AgeDays)
	expected, source := e.tables.ExpectedCells(category, phase, condition)

	report := &domain.Report{
		AgeCategory:          category,
		Phase:                phase,
		ExpectedCells:        expected,
		ExpectedCellsSource:  source,
		MaturationIndex:      mi,
		NonMIFindings:        analysis.Findings,
		NonMIPercentages:     analysis.Percentages,
		IUDDiagnosis:         analysis.IUDDiagnosis,
		ContraceptiveImpact:  e.tables.HormoneDescription(input.Contraceptive),
		HormoneTherapyImpact: e.tables.HormoneDescription(input.HormoneTherapy),
		TotalCells:           analysis.TotalCells,
		GeneratedAt:          e.now().UTC(),
	}

	e.logger.WithFields(logrus.Fields{
		"age_category":  category.String(),
		"phase":         phase,
		"condition":     condition.String(),
		"mi_status":     mi.Status,
		"total_cells":   analysis.TotalCells,
		"findings":      len(analysis.Findings),
		"iud_diagnosis": analysis.IUDDiagnosis != "",
	}).Debug("Completed cytology interpretation")

	return report, nil
}

func (e *CytologyRuleEngine) validate(input *domain.PatientInput, counts domain.CellCounts) error {
	if input == nil {
		return domain.NewValidationError("input", "patient input is required", nil)
	}
	if input.AgeDays < 0 {
		return domain.NewInvalidAgeError(input.AgeDays)
	}
	if input.CycleLength != nil && *input.CycleLength <= 0 {
		return domain.NewInvalidCycleLengthError(*input.CycleLength)
	}
	if input.LMPDate != nil && calendarDate(*input.LMPDate).After(e.Today()) {
		return domain.NewInvalidDateError(*input.LMPDate)
	}
	return counts.Validate()
}

// ClassifyAge maps age in days to an age category. Ages between puberty and the
// reproductive band return AgeUndefined.
func (t *RuleTables) ClassifyAge(ageDays int) domain.AgeCategory {
	for _, band := range t.ageBands {
		if ageDays >= band.minDays && ageDays <= band.maxDays {
			return band.category
		}
	}
	return domain.AgeUndefined
}

// ClassifyAge classifies age in days using the default rule tables.
func ClassifyAge(ageDays int) domain.AgeCategory {
	return defaultRuleTables.ClassifyAge(ageDays)
}

// CalculatePhase infers the menstrual phase from the days elapsed between lmp and today,
// taken modulo the cycle length.
func CalculatePhase(lmp, today time.Time, cycleLength int) (domain.MenstrualPhase, error) {
	if cycleLength <= 0 {
		return "", domain.NewInvalidCycleLengthError(cycleLength)
	}

	elapsed := daysBetween(lmp, today)
	if elapsed < 0 {
		return "", domain.NewInvalidDateError(lmp)
	}

	day := elapsed % cycleLength
	half := cycleLength / 2

	switch {
	case day >= 1 && day <= 5:
		return domain.PhaseMenstrual, nil
	case day >= 6 && day <= half:
		return domain.PhaseProliferative, nil
	case day > half && day <= cycleLength:
		return domain.PhaseSecretory, nil
	default:
		return domain.PhaseUnknown, nil
	}
}

// CalculateMaturationIndex computes PC/IC/SC percentages of the MI cell total.
func CalculateMaturationIndex(counts domain.CellCounts) domain.MaturationIndex {
	total := counts.MITotal()
	if total == 0 {
		return domain.MaturationIndex{Status: domain.MINoCells, Interpretation: miNoCellsText}
	}

	mi := domain.MaturationIndex{
		Status:       domain.MIComputed,
		Parabasal:    round2(percentOf(counts.PC, total)),
		Intermediate: round2(percentOf(counts.IC, total)),
		Superficial:  round2(percentOf(counts.SC, total)),
	}
	mi.Interpretation = mi.String()
	return mi
}

// NonMIAnalysis is the outcome of screening non-MI codes against their thresholds.
type NonMIAnalysis struct {
	TotalCells   int
	Percentages  map[domain.NonMICellCode]float64
	Findings     map[domain.NonMICellCode]string
	IUDDiagnosis string
}

// AnalyzeNonMI computes each non-MI code's share of all cells and raises the flags whose
// threshold is strictly exceeded and whose age gate holds. Actinomyces never enter the
// findings map; they set IUDDiagnosis instead.
func (t *RuleTables) AnalyzeNonMI(counts domain.CellCounts, ageDays int) NonMIAnalysis {
	total := counts.Total()
	analysis := NonMIAnalysis{
		TotalCells:  total,
		Percentages: make(map[domain.NonMICellCode]float64, len(t.thresholds)),
		Findings:    make(map[domain.NonMICellCode]string),
	}

	for _, rule := range t.thresholds {
		percent := 0.0
		if total > 0 {
			percent = percentOf(counts.NonMI(rule.code), total)
		}
		analysis.Percentages[rule.code] = round2(percent)

		if percent <= rule.threshold {
			continue
		}
		if rule.code == domain.Actinomyces {
			analysis.IUDDiagnosis = IUDDiagnosis
			continue
		}
		if rule.ageGate != nil && !rule.ageGate(ageDays) {
			continue
		}
		analysis.Findings[rule.code] = fmt.Sprintf(rule.finding, percent)
	}

	return analysis
}

// ExpectedCells looks up the expected cell pattern. Conditions take precedence over the
// reproductive phase, which takes precedence over the age category. A reproductive
// patient without a usable phase gets an empty pattern; an undefined category gets nil.
func (t *RuleTables) ExpectedCells(category domain.AgeCategory, phase domain.MenstrualPhase, condition domain.Condition) ([]string, string) {
	if cells, ok := t.conditionCells[condition]; ok {
		return copyCells(cells), SourceCondition
	}

	if category == domain.AgeReproductive {
		if phase.Resolved() {
			return copyCells(t.phaseCells[phase]), SourcePhase
		}
		return []string{}, SourceNone
	}

	if cells, ok := t.categoryCells[category]; ok {
		return copyCells(cells), SourceCategory
	}
	return nil, SourceNone
}

func percentOf(count, total int) float64 {
	return float64(count) * 100 / float64(total)
}

func round2(v float64) float64 {
	rounded, err := stats.Round(v, 2)
	if err != nil {
		return v
	}
	return rounded
}

// calendarDate truncates t to midnight UTC of its own calendar day.
func calendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(calendarDate(to).Sub(calendarDate(from)).Hours() / 24)
}
