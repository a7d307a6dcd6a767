package service

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cervicel-cytology-server/internal/domain"
)

var fixedToday = time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *CytologyRuleEngine {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewCytologyRuleEngine(logger, WithClock(func() time.Time { return fixedToday }))
}

func intPtr(v int) *int { return &v }

func datePtr(t time.Time) *time.Time { return &t }

func TestClassifyAge(t *testing.T) {
	tests := []struct {
		ageDays  int
		expected domain.AgeCategory
	}{
		{0, domain.AgeNewborn},
		{7, domain.AgeNewborn},
		{8, domain.AgeEarlyChildhood},
		{2920, domain.AgeEarlyChildhood},
		{2921, domain.AgePuberty},
		{4745, domain.AgePuberty},
		{4746, domain.AgeUndefined},
		{5000, domain.AgeUndefined},
		{5109, domain.AgeUndefined},
		{5110, domain.AgeReproductive},
		{9125, domain.AgeReproductive},
		{16425, domain.AgeReproductive},
		{16426, domain.AgePostmenopausal},
		{30000, domain.AgePostmenopausal},
	}

	for _, tt := range tests {
		t.Run(tt.expected.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyAge(tt.ageDays), "age %d days", tt.ageDays)
		})
	}
}

func TestClassifyAge_TotalOutsideGap(t *testing.T) {
	for age := 0; age <= 20000; age++ {
		category := ClassifyAge(age)
		inGap := age >= 4746 && age <= 5109
		if inGap {
			require.Equal(t, domain.AgeUndefined, category, "age %d", age)
		} else {
			require.True(t, category.IsValid(), "age %d should classify, got %q", age, category)
		}
	}
}

func TestCalculatePhase(t *testing.T) {
	tests := []struct {
		name     string
		daysAgo  int
		cycle    int
		expected domain.MenstrualPhase
	}{
		{"Day zero is unknown", 0, 28, domain.PhaseUnknown},
		{"First menstrual day", 1, 28, domain.PhaseMenstrual},
		{"Last menstrual day", 5, 28, domain.PhaseMenstrual},
		{"First proliferative day", 6, 28, domain.PhaseProliferative},
		{"Half cycle is proliferative", 14, 28, domain.PhaseProliferative},
		{"After half cycle is secretory", 15, 28, domain.PhaseSecretory},
		{"Last cycle day is secretory", 27, 28, domain.PhaseSecretory},
		{"Full cycle wraps to unknown", 28, 28, domain.PhaseUnknown},
		{"Second cycle menstrual", 30, 28, domain.PhaseMenstrual},
		{"Odd cycle floors half", 16, 33, domain.PhaseProliferative},
		{"Odd cycle past half", 17, 33, domain.PhaseSecretory},
		{"Short cycle", 4, 6, domain.PhaseMenstrual},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lmp := fixedToday.AddDate(0, 0, -tt.daysAgo)
			phase, err := CalculatePhase(lmp, fixedToday, tt.cycle)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, phase)
		})
	}
}

func TestCalculatePhase_Periodic(t *testing.T) {
	for _, cycle := range []int{21, 28, 35} {
		for offset := 0; offset < cycle; offset++ {
			lmp := fixedToday.AddDate(0, 0, -offset)
			base, err := CalculatePhase(lmp, fixedToday, cycle)
			require.NoError(t, err)

			for k := 1; k <= 3; k++ {
				shifted, err := CalculatePhase(lmp.AddDate(0, 0, -k*cycle), fixedToday, cycle)
				require.NoError(t, err)
				require.Equal(t, base, shifted, "cycle %d offset %d k %d", cycle, offset, k)
			}
		}
	}
}

func TestCalculatePhase_Errors(t *testing.T) {
	_, err := CalculatePhase(fixedToday, fixedToday, 0)
	assert.True(t, errors.Is(err, domain.ErrInvalidCycleLength))

	_, err = CalculatePhase(fixedToday, fixedToday, -3)
	assert.True(t, errors.Is(err, domain.ErrInvalidCycleLength))

	_, err = CalculatePhase(fixedToday.AddDate(0, 0, 2), fixedToday, 28)
	assert.True(t, errors.Is(err, domain.ErrInvalidDate))
}

func TestCalculateMaturationIndex(t *testing.T) {
	t.Run("Computed", func(t *testing.T) {
		mi := CalculateMaturationIndex(domain.CellCounts{PC: 30, IC: 50, SC: 20, SM: 40})
		assert.Equal(t, domain.MIComputed, mi.Status)
		assert.Equal(t, 30.0, mi.Parabasal)
		assert.Equal(t, 50.0, mi.Intermediate)
		assert.Equal(t, 20.0, mi.Superficial)
		assert.Equal(t, "MI: PC=30.00%, IC=50.00%, SC=20.00%", mi.Interpretation)
	})

	t.Run("No MI cells", func(t *testing.T) {
		mi := CalculateMaturationIndex(domain.CellCounts{SM: 10, KC: 3})
		assert.Equal(t, domain.MINoCells, mi.Status)
		assert.Zero(t, mi.Sum())
		assert.Equal(t, "No MI cells detected", mi.Interpretation)
	})

	t.Run("Rounded percentages sum to 100", func(t *testing.T) {
		samples := []domain.CellCounts{
			{PC: 7, IC: 13, SC: 29},
			{PC: 0, IC: 2, SC: 1},
			{PC: 101, IC: 333, SC: 17},
			{SC: 5},
		}
		for _, counts := range samples {
			mi := CalculateMaturationIndex(counts)
			assert.InDelta(t, 100, mi.Sum(), 0.01, "counts %+v", counts)
		}
	})
}

func TestAnalyzeNonMI(t *testing.T) {
	tables := DefaultRuleTables()

	t.Run("Zero total never flags", func(t *testing.T) {
		analysis := tables.AnalyzeNonMI(domain.CellCounts{}, 20000)
		assert.Zero(t, analysis.TotalCells)
		assert.Empty(t, analysis.Findings)
		assert.Empty(t, analysis.IUDDiagnosis)
		for _, code := range domain.NonMICellCodes {
			assert.Zero(t, analysis.Percentages[code], "code %s", code)
		}
	})

	t.Run("Threshold is strict", func(t *testing.T) {
		analysis := tables.AnalyzeNonMI(domain.CellCounts{SM: 20, KC: 5, IC: 75}, 9125)
		assert.Empty(t, analysis.Findings)
		assert.Equal(t, 20.0, analysis.Percentages[domain.SquamousMetaplastic])
	})

	t.Run("Koilocytes", func(t *testing.T) {
		analysis := tables.AnalyzeNonMI(domain.CellCounts{KC: 6, IC: 94}, 9125)
		require.Contains(t, analysis.Findings, domain.Koilocyte)
		assert.Equal(t, "High koilocytes: 6.00% (HPV infection risk)", analysis.Findings[domain.Koilocyte])
	})

	t.Run("Glandular gates below postmenopause", func(t *testing.T) {
		analysis := tables.AnalyzeNonMI(domain.CellCounts{EC: 5, EM: 5, IC: 90}, 9125)
		assert.Empty(t, analysis.Findings)
	})

	t.Run("Glandular gates above postmenopause", func(t *testing.T) {
		analysis := tables.AnalyzeNonMI(domain.CellCounts{EC: 5, EM: 5, IC: 90}, 16426)
		assert.Contains(t, analysis.Findings, domain.Endocervical)
		assert.Contains(t, analysis.Findings, domain.Endometrial)
	})

	t.Run("Boundary age asymmetry", func(t *testing.T) {
		analysis := tables.AnalyzeNonMI(domain.CellCounts{EC: 5, EM: 5, IC: 90}, 16425)
		assert.NotContains(t, analysis.Findings, domain.Endocervical)
		assert.Equal(t,
			"High endometrial cells: 5.00% (evaluate for endometrial pathology)",
			analysis.Findings[domain.Endometrial])
	})

	t.Run("Percent is unrounded for the comparison", func(t *testing.T) {
		// 2 of 199 cells is 1.005%, above the 1% threshold.
		analysis := tables.AnalyzeNonMI(domain.CellCounts{EM: 2, IC: 197}, 20000)
		assert.Contains(t, analysis.Findings, domain.Endometrial)
		assert.Equal(t, "High endometrial cells: 1.01% (evaluate for endometrial pathology)",
			analysis.Findings[domain.Endometrial])
	})
}

func TestExpectedCells(t *testing.T) {
	tables := DefaultRuleTables()

	tests := []struct {
		name      string
		category  domain.AgeCategory
		phase     domain.MenstrualPhase
		condition domain.Condition
		expected  []string
		source    string
	}{
		{
			name:      "Pregnancy overrides category",
			category:  domain.AgePostmenopausal,
			phase:     domain.PhaseNotApplicable,
			condition: domain.ConditionPregnancy,
			expected:  []string{"superficial", "intermediate", "parabasal"},
			source:    SourceCondition,
		},
		{
			name:      "Postpartum overrides phase",
			category:  domain.AgeReproductive,
			phase:     domain.PhaseMenstrual,
			condition: domain.ConditionPostpartumLactation,
			expected:  []string{"similar to pregnancy"},
			source:    SourceCondition,
		},
		{
			name:     "Menstrual phase",
			category: domain.AgeReproductive,
			phase:    domain.PhaseMenstrual,
			expected: []string{"intermediate", "superficial", "endometrial"},
			source:   SourcePhase,
		},
		{
			name:     "Secretory phase",
			category: domain.AgeReproductive,
			phase:    domain.PhaseSecretory,
			expected: []string{"predominantly intermediate"},
			source:   SourcePhase,
		},
		{
			name:     "Unknown phase has no pattern",
			category: domain.AgeReproductive,
			phase:    domain.PhaseUnknown,
			expected: []string{},
			source:   SourcePhase,
		},
		{
			name:     "Reproductive without phase has no pattern",
			category: domain.AgeReproductive,
			phase:    domain.PhaseNotApplicable,
			expected: []string{},
			source:   SourceNone,
		},
		{
			name:     "Early childhood",
			category: domain.AgeEarlyChildhood,
			phase:    domain.PhaseNotApplicable,
			expected: []string{"parabasal"},
			source:   SourceCategory,
		},
		{
			name:     "Postmenopausal",
			category: domain.AgePostmenopausal,
			phase:    domain.PhaseNotApplicable,
			expected: []string{"glandular"},
			source:   SourceCategory,
		},
		{
			name:     "Undefined category",
			category: domain.AgeUndefined,
			phase:    domain.PhaseNotApplicable,
			expected: nil,
			source:   SourceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cells, source := tables.ExpectedCells(tt.category, tt.phase, tt.condition)
			assert.Equal(t, tt.expected, cells)
			assert.Equal(t, tt.source, source)
		})
	}

	t.Run("Returned pattern is a copy", func(t *testing.T) {
		cells, _ := tables.ExpectedCells(domain.AgeEarlyChildhood, domain.PhaseNotApplicable, domain.ConditionNone)
		cells[0] = "mutated"
		again, _ := tables.ExpectedCells(domain.AgeEarlyChildhood, domain.PhaseNotApplicable, domain.ConditionNone)
		assert.Equal(t, []string{"parabasal"}, again)
	})
}

func TestCytologyRuleEngine_Interpret(t *testing.T) {
	engine := newTestEngine(t)

	t.Run("Reproductive baseline", func(t *testing.T) {
		input := &domain.PatientInput{AgeDays: 9125}
		counts := domain.CellCounts{PC: 30, IC: 50, SC: 20, SM: 5, KC: 2}

		report, err := engine.Interpret(input, counts)
		require.NoError(t, err)

		assert.Equal(t, domain.AgeReproductive, report.AgeCategory)
		assert.Equal(t, domain.PhaseNotApplicable, report.Phase)
		assert.Equal(t, domain.MIComputed, report.MaturationIndex.Status)
		assert.Equal(t, 30.0, report.MaturationIndex.Parabasal)
		assert.Equal(t, 50.0, report.MaturationIndex.Intermediate)
		assert.Equal(t, 20.0, report.MaturationIndex.Superficial)
		assert.Empty(t, report.NonMIFindings)
		assert.Empty(t, report.IUDDiagnosis)
		assert.False(t, report.HasFindings())
		assert.Equal(t, 107, report.TotalCells)
		assert.Equal(t, []string{}, report.ExpectedCells)
		assert.Equal(t, NoHormoneEffect, report.ContraceptiveImpact)
		assert.Equal(t, fixedToday, report.GeneratedAt)
	})

	t.Run("Squamous metaplastic flag", func(t *testing.T) {
		input := &domain.PatientInput{AgeDays: 9125}
		counts := domain.CellCounts{PC: 25, IC: 30, SC: 20, SM: 25}

		report, err := engine.Interpret(input, counts)
		require.NoError(t, err)

		require.Contains(t, report.NonMIFindings, domain.SquamousMetaplastic)
		assert.Contains(t, report.NonMIFindings[domain.SquamousMetaplastic], "25.00%")
		assert.Equal(t, 25.0, report.NonMIPercentages[domain.SquamousMetaplastic])
	})

	t.Run("Actinomyces set IUD diagnosis only", func(t *testing.T) {
		input := &domain.PatientInput{AgeDays: 9125}
		counts := domain.CellCounts{PC: 30, IC: 47, SC: 20, AC: 3}

		report, err := engine.Interpret(input, counts)
		require.NoError(t, err)

		assert.Equal(t, IUDDiagnosis, report.IUDDiagnosis)
		assert.NotContains(t, report.NonMIFindings, domain.Actinomyces)
		assert.True(t, report.HasFindings())
	})

	t.Run("Pregnancy short-circuits MI", func(t *testing.T) {
		for _, age := range []int{3, 9125, 20000} {
			input := &domain.PatientInput{AgeDays: age, Condition: "pregnancy"}
			report, err := engine.Interpret(input, domain.CellCounts{PC: 10, IC: 10, SC: 10})
			require.NoError(t, err)

			assert.Equal(t, domain.MINotApplicable, report.MaturationIndex.Status)
			assert.Zero(t, report.MaturationIndex.Sum())
			assert.Equal(t, []string{"superficial", "intermediate", "parabasal"}, report.ExpectedCells)
		}
	})

	t.Run("Boundary age glandular flags", func(t *testing.T) {
		// 16425 days is the last reproductive day; EC sits exactly on its threshold.
		input := &domain.PatientInput{AgeDays: 16425}
		counts := domain.CellCounts{IC: 97, EC: 1, EM: 2}

		report, err := engine.Interpret(input, counts)
		require.NoError(t, err)

		assert.Equal(t, 1.0, report.NonMIPercentages[domain.Endocervical])
		assert.NotContains(t, report.NonMIFindings, domain.Endocervical)
		assert.Contains(t, report.NonMIFindings, domain.Endometrial)
	})

	t.Run("Phase resolved from LMP", func(t *testing.T) {
		input := &domain.PatientInput{
			AgeDays:       9125,
			LMPDate:       datePtr(fixedToday.AddDate(0, 0, -3)),
			Contraceptive: "progesterone",
		}
		report, err := engine.Interpret(input, domain.CellCounts{IC: 10})
		require.NoError(t, err)

		assert.Equal(t, domain.PhaseMenstrual, report.Phase)
		assert.Equal(t, []string{"intermediate", "superficial", "endometrial"}, report.ExpectedCells)
		assert.Equal(t, SourcePhase, report.ExpectedCellsSource)
		assert.Equal(t, "Progesterone may increase intermediate cells.", report.ContraceptiveImpact)
	})

	t.Run("Custom cycle length", func(t *testing.T) {
		input := &domain.PatientInput{
			AgeDays:     9125,
			LMPDate:     datePtr(fixedToday.AddDate(0, 0, -20)),
			CycleLength: intPtr(35),
		}
		report, err := engine.Interpret(input, domain.CellCounts{IC: 10})
		require.NoError(t, err)
		assert.Equal(t, domain.PhaseSecretory, report.Phase)
	})

	t.Run("LMP ignored outside reproductive age", func(t *testing.T) {
		input := &domain.PatientInput{
			AgeDays: 20000,
			LMPDate: datePtr(fixedToday.AddDate(0, 0, -3)),
		}
		report, err := engine.Interpret(input, domain.CellCounts{PC: 10})
		require.NoError(t, err)
		assert.Equal(t, domain.PhaseNotApplicable, report.Phase)
		assert.Equal(t, []string{"glandular"}, report.ExpectedCells)
	})

	t.Run("Age gap", func(t *testing.T) {
		report, err := engine.Interpret(&domain.PatientInput{AgeDays: 5000}, domain.CellCounts{IC: 10})
		require.NoError(t, err)
		assert.Equal(t, domain.AgeUndefined, report.AgeCategory)
		assert.Nil(t, report.ExpectedCells)
	})

	t.Run("Unknown hormone codes", func(t *testing.T) {
		input := &domain.PatientInput{AgeDays: 9125, Contraceptive: "copper", HormoneTherapy: "estrogen"}
		report, err := engine.Interpret(input, domain.CellCounts{})
		require.NoError(t, err)
		assert.Equal(t, NoHormoneEffect, report.ContraceptiveImpact)
		assert.Equal(t, "Estrogen may increase superficial cells.", report.HormoneTherapyImpact)
		assert.Equal(t, domain.MINoCells, report.MaturationIndex.Status)
	})
}

func TestCytologyRuleEngine_InterpretValidation(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name     string
		input    *domain.PatientInput
		counts   domain.CellCounts
		sentinel error
	}{
		{
			name:     "Negative age",
			input:    &domain.PatientInput{AgeDays: -1},
			sentinel: domain.ErrInvalidAge,
		},
		{
			name:     "Zero cycle length",
			input:    &domain.PatientInput{AgeDays: 9125, CycleLength: intPtr(0)},
			sentinel: domain.ErrInvalidCycleLength,
		},
		{
			name:     "Cycle length checked without LMP",
			input:    &domain.PatientInput{AgeDays: 20000, CycleLength: intPtr(-5)},
			sentinel: domain.ErrInvalidCycleLength,
		},
		{
			name:     "Future LMP",
			input:    &domain.PatientInput{AgeDays: 9125, LMPDate: datePtr(fixedToday.AddDate(0, 0, 1))},
			sentinel: domain.ErrInvalidDate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := engine.Interpret(tt.input, tt.counts)
			assert.Nil(t, report)
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}

	t.Run("Negative count", func(t *testing.T) {
		_, err := engine.Interpret(&domain.PatientInput{AgeDays: 10}, domain.CellCounts{SC: -2})
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "SC", verr.Field)
	})

	t.Run("Nil input", func(t *testing.T) {
		_, err := engine.Interpret(nil, domain.CellCounts{})
		assert.Error(t, err)
	})

	t.Run("LMP earlier today is accepted", func(t *testing.T) {
		lmp := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
		report, err := engine.Interpret(&domain.PatientInput{AgeDays: 9125, LMPDate: &lmp}, domain.CellCounts{IC: 1})
		require.NoError(t, err)
		assert.Equal(t, domain.PhaseUnknown, report.Phase)
	})
}
