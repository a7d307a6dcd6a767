// Package domain contains core business entities and types for cervical cytology
// hormonal-status interpretation.
//
// Cell-type vocabulary is split into two disjoint enumerations: the maturation-index
// (MI) codes used to compute the parabasal/intermediate/superficial ratio, and the
// non-MI codes screened against percentage thresholds.
package domain

import (
	"fmt"
)

// MICellCode identifies a squamous cell class that contributes to the maturation index.
type MICellCode string

const (
	Parabasal    MICellCode = "PC"
	Intermediate MICellCode = "IC"
	Superficial  MICellCode = "SC"
)

// MICellCodes lists the maturation-index codes in presentation order.
var MICellCodes = []MICellCode{Parabasal, Intermediate, Superficial}

// NonMICellCode identifies a cell class screened against an abnormality threshold.
type NonMICellCode string

const (
	SquamousMetaplastic NonMICellCode = "SM"
	Koilocyte           NonMICellCode = "KC"
	Endocervical        NonMICellCode = "EC"
	Endometrial         NonMICellCode = "EM"
	Actinomyces         NonMICellCode = "AC"
)

// NonMICellCodes lists the non-MI codes in rule-table order.
var NonMICellCodes = []NonMICellCode{SquamousMetaplastic, Koilocyte, Endocervical, Endometrial, Actinomyces}

// IsValid reports whether the code belongs to the MI vocabulary.
func (c MICellCode) IsValid() bool {
	switch c {
	case Parabasal, Intermediate, Superficial:
		return true
	default:
		return false
	}
}

// IsValid reports whether the code belongs to the non-MI vocabulary.
func (c NonMICellCode) IsValid() bool {
	switch c {
	case SquamousMetaplastic, Koilocyte, Endocervical, Endometrial, Actinomyces:
		return true
	default:
		return false
	}
}

// Description returns the cell class name used in reports.
func (c NonMICellCode) Description() string {
	switch c {
	case SquamousMetaplastic:
		return "Squamous metaplastic cells"
	case Koilocyte:
		return "Koilocytes"
	case Endocervical:
		return "Endocervical cells"
	case Endometrial:
		return "Endometrial cells"
	case Actinomyces:
		return "Actinomyces"
	default:
		return "Unknown cell type"
	}
}

// CellCounts holds non-negative per-class cell counts for a single image or a whole case.
// The JSON form is the flat code-keyed object returned by the classifier; unknown keys
// are ignored on decode.
type CellCounts struct {
	PC int `json:"PC"`
	IC int `json:"IC"`
	SC int `json:"SC"`
	SM int `json:"SM"`
	KC int `json:"KC"`
	EC int `json:"EC"`
	EM int `json:"EM"`
	AC int `json:"AC"`
}

// MI returns the count for a maturation-index code.
func (c CellCounts) MI(code MICellCode) int {
	switch code {
	case Parabasal:
		return c.PC
	case Intermediate:
		return c.IC
	case Superficial:
		return c.SC
	default:
		return 0
	}
}

// NonMI returns the count for a non-MI code.
func (c CellCounts) NonMI(code NonMICellCode) int {
	switch code {
	case SquamousMetaplastic:
		return c.SM
	case Koilocyte:
		return c.KC
	case Endocervical:
		return c.EC
	case Endometrial:
		return c.EM
	case Actinomyces:
		return c.AC
	default:
		return 0
	}
}

// MITotal returns PC+IC+SC.
func (c CellCounts) MITotal() int {
	return c.PC + c.IC + c.SC
}

// Total returns the sum of every cell class.
func (c CellCounts) Total() int {
	return c.MITotal() + c.SM + c.KC + c.EC + c.EM + c.AC
}

// Add returns the code-wise sum of c and other.
func (c CellCounts) Add(other CellCounts) CellCounts {
	return CellCounts{
		PC: c.PC + other.PC,
		IC: c.IC + other.IC,
		SC: c.SC + other.SC,
		SM: c.SM + other.SM,
		KC: c.KC + other.KC,
		EC: c.EC + other.EC,
		EM: c.EM + other.EM,
		AC: c.AC + other.AC,
	}
}

// Validate rejects negative counts.
func (c CellCounts) Validate() error {
	for _, code := range MICellCodes {
		if c.MI(code) < 0 {
			return NewValidationError(string(code), "cell count must be non-negative", c.MI(code))
		}
	}
	for _, code := range NonMICellCodes {
		if c.NonMI(code) < 0 {
			return NewValidationError(string(code), "cell count must be non-negative", c.NonMI(code))
		}
	}
	return nil
}

// AgeCategory is the hormonal age band derived from age in days.
type AgeCategory string

const (
	AgeNewborn        AgeCategory = "newborn"
	AgeEarlyChildhood AgeCategory = "early_childhood"
	AgePuberty        AgeCategory = "puberty"
	AgeReproductive   AgeCategory = "reproductive"
	AgePostmenopausal AgeCategory = "postmenopausal"
	// AgeUndefined marks ages that fall outside every band.
	AgeUndefined AgeCategory = ""
)

// IsValid reports whether the category is one of the defined bands.
func (a AgeCategory) IsValid() bool {
	switch a {
	case AgeNewborn, AgeEarlyChildhood, AgePuberty, AgeReproductive, AgePostmenopausal:
		return true
	default:
		return false
	}
}

// String returns the category name, or "undefined" for the gap.
func (a AgeCategory) String() string {
	if a == AgeUndefined {
		return "undefined"
	}
	return string(a)
}

// MenstrualPhase is the cycle phase inferred from the last menstrual period.
type MenstrualPhase string

const (
	PhaseMenstrual     MenstrualPhase = "menstrual"
	PhaseProliferative MenstrualPhase = "proliferative"
	PhaseSecretory     MenstrualPhase = "secretory"
	PhaseUnknown       MenstrualPhase = "unknown"
	// PhaseNotApplicable is reported when no phase was computed.
	PhaseNotApplicable MenstrualPhase = "not_applicable"
)

// Resolved reports whether a phase calculation took place.
func (p MenstrualPhase) Resolved() bool {
	return p != "" && p != PhaseNotApplicable
}

// Condition is a clinical condition that overrides age-based expectations.
type Condition string

const (
	ConditionNone                Condition = ""
	ConditionPregnancy           Condition = "pregnancy"
	ConditionPostpartumLactation Condition = "postpartum_lactation"
)

// ParseCondition maps a condition code to a recognised condition. Only the exact
// codes pregnancy and postpartum_lactation match; anything else means no special condition.
func ParseCondition(s string) Condition {
	switch Condition(s) {
	case ConditionPregnancy:
		return ConditionPregnancy
	case ConditionPostpartumLactation:
		return ConditionPostpartumLactation
	default:
		return ConditionNone
	}
}

// String returns the condition name, or "none".
func (c Condition) String() string {
	if c == ConditionNone {
		return "none"
	}
	return string(c)
}

// MIStatus describes which form the maturation index interpretation took.
type MIStatus string

const (
	MIComputed      MIStatus = "computed"
	MINoCells       MIStatus = "no_mi_cells"
	MINotApplicable MIStatus = "not_applicable"
)

// MaturationIndex is the parabasal/intermediate/superficial ratio as percentages
// rounded to two decimals. Percentages are zero unless Status is MIComputed.
type MaturationIndex struct {
	Status         MIStatus `json:"status"`
	Parabasal      float64  `json:"PC"`
	Intermediate   float64  `json:"IC"`
	Superficial    float64  `json:"SC"`
	Interpretation string   `json:"interpretation"`
}

// Sum returns PC+IC+SC percentages.
func (m MaturationIndex) Sum() float64 {
	return m.Parabasal + m.Intermediate + m.Superficial
}

// String formats the index the way it appears in reports.
func (m MaturationIndex) String() string {
	if m.Status != MIComputed {
		return m.Interpretation
	}
	return fmt.Sprintf("MI: PC=%.2f%%, IC=%.2f%%, SC=%.2f%%", m.Parabasal, m.Intermediate, m.Superficial)
}
