package service

import (
	"math"

	"github.com/cervicel-cytology-server/internal/domain"
)

const daysPerYear = 365

// Age boundaries in days.
const (
	newbornMaxDays        = 7
	earlyChildhoodMaxDays = 8 * daysPerYear
	pubertyMaxDays        = 13 * daysPerYear
	reproductiveMinDays   = 14 * daysPerYear
	reproductiveMaxDays   = 45 * daysPerYear
)

// NoHormoneEffect is reported for unrecognised or absent contraceptive and hormone codes.
const NoHormoneEffect = "No specific hormone effect"

// IUDDiagnosis is reported when actinomyces exceed their threshold.
const IUDDiagnosis = "Actinomyces detected, suggesting IUD-related infection."

// ageBand is an inclusive day range. Bands are evaluated in order; the first match wins.
type ageBand struct {
	category domain.AgeCategory
	minDays  int
	maxDays  int
}

// thresholdRule flags a non-MI code whose share of all cells exceeds Threshold percent.
type thresholdRule struct {
	code      domain.NonMICellCode
	threshold float64
	// ageGate, when set, must also hold for the flag to be raised.
	ageGate func(ageDays int) bool
	finding string
}

// RuleTables holds the static interpretation tables. A RuleTables value is built once
// and only read afterwards; accessors hand out copies.
type RuleTables struct {
	ageBands       []ageBand
	thresholds     []thresholdRule
	hormones       map[string]string
	categoryCells  map[domain.AgeCategory][]string
	phaseCells     map[domain.MenstrualPhase][]string
	conditionCells map[domain.Condition][]string
}

var defaultRuleTables = newRuleTables()

// DefaultRuleTables returns the process-wide rule tables.
func DefaultRuleTables() *RuleTables {
	return defaultRuleTables
}

func newRuleTables() *RuleTables {
	return &RuleTables{
		ageBands: []ageBand{
			{domain.AgeNewborn, math.MinInt, newbornMaxDays},
			{domain.AgeEarlyChildhood, newbornMaxDays + 1, earlyChildhoodMaxDays},
			{domain.AgePuberty, earlyChildhoodMaxDays + 1, pubertyMaxDays},
			// 4746..5109 days match no band.
			{domain.AgeReproductive, reproductiveMinDays, reproductiveMaxDays},
			{domain.AgePostmenopausal, reproductiveMaxDays + 1, math.MaxInt},
		},
		thresholds: []thresholdRule{
			{
				code:      domain.SquamousMetaplastic,
				threshold: 20,
				finding:   "High squamous metaplastic cells: %.2f%% (chronic inflammation/repair)",
			},
			{
				code:      domain.Koilocyte,
				threshold: 5,
				finding:   "High koilocytes: %.2f%% (HPV infection risk)",
			},
			{
				code:      domain.Endocervical,
				threshold: 1,
				ageGate:   func(ageDays int) bool { return ageDays > reproductiveMaxDays },
				finding:   "High endocervical cells: %.2f%% (may indicate glandular abnormalities)",
			},
			{
				code:      domain.Endometrial,
				threshold: 1,
				// >= here, unlike the endocervical gate.
				ageGate: func(ageDays int) bool { return ageDays >= reproductiveMaxDays },
				finding: "High endometrial cells: %.2f%% (evaluate for endometrial pathology)",
			},
			{
				code:      domain.Actinomyces,
				threshold: 2,
			},
		},
		hormones: map[string]string{
			"progesterone": "Progesterone may increase intermediate cells.",
			"estrogen":     "Estrogen may increase superficial cells.",
			"androgen":     "Androgen can reduce the presence of superficial cells.",
		},
		categoryCells: map[domain.AgeCategory][]string{
			domain.AgeNewborn:        {"predominantly intermediate", "few superficial"},
			domain.AgeEarlyChildhood: {"parabasal"},
			domain.AgePuberty:        {"predominantly intermediate", "few superficial"},
			domain.AgePostmenopausal: {"glandular"},
		},
		phaseCells: map[domain.MenstrualPhase][]string{
			domain.PhaseMenstrual:     {"intermediate", "superficial", "endometrial"},
			domain.PhaseProliferative: {"predominantly intermediate"},
			domain.PhaseSecretory:     {"predominantly intermediate"},
		},
		conditionCells: map[domain.Condition][]string{
			domain.ConditionPregnancy:           {"superficial", "intermediate", "parabasal"},
			domain.ConditionPostpartumLactation: {"similar to pregnancy"},
		},
	}
}

// Threshold returns the configured percentage threshold for a non-MI code.
func (t *RuleTables) Threshold(code domain.NonMICellCode) (float64, bool) {
	for _, rule := range t.thresholds {
		if rule.code == code {
			return rule.threshold, true
		}
	}
	return 0, false
}

// Thresholds returns a copy of the threshold table.
func (t *RuleTables) Thresholds() map[domain.NonMICellCode]float64 {
	out := make(map[domain.NonMICellCode]float64, len(t.thresholds))
	for _, rule := range t.thresholds {
		out[rule.code] = rule.threshold
	}
	return out
}

// HormoneDescription returns the effect text for a contraceptive or hormone-therapy code.
func (t *RuleTables) HormoneDescription(code string) string {
	if desc, ok := t.hormones[code]; ok {
		return desc
	}
	return NoHormoneEffect
}

func copyCells(cells []string) []string {
	out := make([]string, len(cells))
	copy(out, cells)
	return out
}
