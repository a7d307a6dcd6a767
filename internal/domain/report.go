package domain

import (
	"time"
)

// DateLayout is the calendar-date format used for LMP dates on every boundary.
const DateLayout = "2006-01-02"

// DefaultCycleLength is the menstrual cycle length assumed when none is supplied.
const DefaultCycleLength = 28

// MaxImagesPerCase is the largest number of images accepted for one report.
const MaxImagesPerCase = 9

// PatientInput carries the patient data the interpretation engine works from.
type PatientInput struct {
	AgeDays        int        `json:"age_days"`
	LMPDate        *time.Time `json:"lmp_date,omitempty"`
	CycleLength    *int       `json:"cycle_length,omitempty"`
	Condition      string     `json:"condition,omitempty"`
	Contraceptive  string     `json:"contraceptive,omitempty"`
	HormoneTherapy string     `json:"hormone_therapy,omitempty"`
}

// EffectiveCycleLength returns the supplied cycle length or the default.
func (p *PatientInput) EffectiveCycleLength() int {
	if p.CycleLength == nil {
		return DefaultCycleLength
	}
	return *p.CycleLength
}

// Image is one uploaded smear image.
type Image struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// Report is the structured interpretation produced for one case.
type Report struct {
	AgeCategory          AgeCategory               `json:"age_category"`
	Phase                MenstrualPhase            `json:"phase"`
	ExpectedCells        []string                  `json:"expected_cells"`
	ExpectedCellsSource  string                    `json:"expected_cells_source"`
	MaturationIndex      MaturationIndex           `json:"maturation_index"`
	NonMIFindings        map[NonMICellCode]string  `json:"non_mi_findings"`
	NonMIPercentages     map[NonMICellCode]float64 `json:"non_mi_percentages"`
	IUDDiagnosis         string                    `json:"iud_diagnosis,omitempty"`
	ContraceptiveImpact  string                    `json:"contraceptive_impact"`
	HormoneTherapyImpact string                    `json:"hormone_therapy_impact"`
	TotalCells           int                       `json:"total_cells"`
	Warnings             []string                  `json:"warnings,omitempty"`
	GeneratedAt          time.Time                 `json:"generated_at"`
}

// HasFindings reports whether any abnormality flag or IUD diagnosis was raised.
func (r *Report) HasFindings() bool {
	return len(r.NonMIFindings) > 0 || r.IUDDiagnosis != ""
}

// ReportRecord is a generated report together with the inputs that produced it.
type ReportRecord struct {
	ID               string       `json:"id"`
	RequestID        string       `json:"request_id,omitempty"`
	Input            PatientInput `json:"input"`
	Counts           CellCounts   `json:"counts"`
	ImageCount       int          `json:"image_count"`
	Report           *Report      `json:"report"`
	ProcessingTimeMs int64        `json:"processing_time_ms"`
	CreatedAt        time.Time    `json:"created_at"`
}
