package cli

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cervicel-cytology-server/internal/domain"
	"github.com/cervicel-cytology-server/internal/render"
)

func newInterpretCommand(a *app) *cobra.Command {
	var (
		ageDays        int
		lmp            string
		cycleLength    int
		condition      string
		contraceptive  string
		hormoneTherapy string
		counts         domain.CellCounts
		format         string
		save           bool
	)

	cmd := &cobra.Command{
		Use:   "interpret",
		Short: "Interpret cell counts without images",
		Example: `  cervicel interpret --age 9125 --pc 10 --ic 60 --sc 25 --ac 5
  cervicel interpret --age 9125 --lmp 2024-06-01 --ic 80 --sc 20 --format markdown`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			input := &domain.PatientInput{
				AgeDays:        ageDays,
				Condition:      condition,
				Contraceptive:  contraceptive,
				HormoneTherapy: hormoneTherapy,
			}
			if cmd.Flags().Changed("cycle-length") {
				input.CycleLength = &cycleLength
			}
			if lmp != "" {
				date, err := time.Parse(domain.DateLayout, lmp)
				if err != nil {
					return domain.NewValidationError("lmp", "date must use the YYYY-MM-DD format", lmp)
				}
				input.LMPDate = &date
			}

			c, err := a.build(cmd.Context(), save, false)
			if err != nil {
				return err
			}
			defer c.Close()

			record, err := c.reports.GenerateFromCounts(cmd.Context(), "cli-"+uuid.New().String(), input, counts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(record)
			default:
				body, _, err := render.Render(record, format)
				if err != nil {
					return err
				}
				_, err = out.Write(body)
				return err
			}
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&ageDays, "age", 0, "patient age in days")
	flags.StringVar(&lmp, "lmp", "", "last menstrual period (YYYY-MM-DD)")
	flags.IntVar(&cycleLength, "cycle-length", domain.DefaultCycleLength, "menstrual cycle length in days")
	flags.StringVar(&condition, "condition", "", "pregnancy or postpartum_lactation")
	flags.StringVar(&contraceptive, "contraceptive", "", "contraceptive hormone: progesterone, estrogen or androgen")
	flags.StringVar(&hormoneTherapy, "hormone-therapy", "", "hormone therapy: progesterone, estrogen or androgen")
	flags.IntVar(&counts.PC, "pc", 0, "parabasal cell count")
	flags.IntVar(&counts.IC, "ic", 0, "intermediate cell count")
	flags.IntVar(&counts.SC, "sc", 0, "superficial cell count")
	flags.IntVar(&counts.SM, "sm", 0, "squamous metaplastic cell count")
	flags.IntVar(&counts.KC, "kc", 0, "koilocyte count")
	flags.IntVar(&counts.EC, "ec", 0, "endocervical cell count")
	flags.IntVar(&counts.EM, "em", 0, "endometrial cell count")
	flags.IntVar(&counts.AC, "ac", 0, "actinomyces count")
	flags.StringVarP(&format, "format", "f", "json", "output format: json, markdown or html")
	flags.BoolVar(&save, "save", false, "archive the report in the configured store")
	_ = cmd.MarkFlagRequired("age")

	return cmd
}
