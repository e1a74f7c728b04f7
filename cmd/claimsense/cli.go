package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/claimsense/claimsense/internal/config"
	"github.com/claimsense/claimsense/internal/domain/billing"
	"github.com/claimsense/claimsense/internal/domain/claim"
	"github.com/claimsense/claimsense/internal/domain/coding"
	"github.com/claimsense/claimsense/internal/platform/reasoning"
)

var errInvalidClaim = errors.New("claim is invalid")

// offlineService builds a billing service for one-shot commands: offline
// reasoning and no audit log.
func offlineService() (*billing.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return newBillingService(cfg, reasoning.NewOffline(), nil, zerolog.Nop())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <claim.json>",
		Short: "Validate a claim file and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := offlineService()
			if err != nil {
				return err
			}
			return runValidate(svc, args[0], cmd.OutOrStdout())
		},
	}
}

func runValidate(svc *billing.Service, path string, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read claim: %w", err)
	}
	c, err := claim.Decode(data)
	if err != nil {
		return err
	}
	result := svc.Validate(c)
	if err := printJSON(out, result); err != nil {
		return err
	}
	if !result.Valid {
		return errInvalidClaim
	}
	return nil
}

type mapFlags struct {
	procedure   string
	diagnosis   string
	lesions     int
	complexity  string
	patientType string
}

func mapCmd() *cobra.Command {
	var f mapFlags
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Map procedure and diagnosis text to billing codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.procedure == "" && f.diagnosis == "" {
				return errors.New("at least one of --procedure or --diagnosis is required")
			}
			svc, err := offlineService()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), runMap(svc, f))
		},
	}
	cmd.Flags().StringVar(&f.procedure, "procedure", "", "procedure description")
	cmd.Flags().StringVar(&f.diagnosis, "diagnosis", "", "diagnosis description")
	cmd.Flags().IntVar(&f.lesions, "lesions", 0, "number of lesions treated")
	cmd.Flags().StringVar(&f.complexity, "complexity", "", "visit complexity, e.g. low or moderate")
	cmd.Flags().StringVar(&f.patientType, "patient-type", "", "new or established")
	return cmd
}

func runMap(svc *billing.Service, f mapFlags) coding.MappingResult {
	return svc.MapCodes(billing.MapRequest{
		Entities: &coding.Entities{
			ProcedureName:   f.procedure,
			DiagnosisText:   f.diagnosis,
			LesionCount:     f.lesions,
			VisitComplexity: f.complexity,
			PatientType:     f.patientType,
		},
	})
}
