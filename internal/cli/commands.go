package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mr1hm/go-disaster-response/internal/app"
	"github.com/mr1hm/go-disaster-response/internal/classifier"
	"github.com/mr1hm/go-disaster-response/internal/inventory"
	"github.com/mr1hm/go-disaster-response/internal/lifecycle"
	"github.com/mr1hm/go-disaster-response/internal/models"
)

func NewClassifyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classify [report.json]",
		Short: "Classify a report without recording it",
		Long: `Print the emergency type and severity a report would be given.
The report is read from the named file, or from stdin when no file or "-" is given.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			return runClassify(opts, r, cmd.OutOrStdout())
		},
	}
}

func runClassify(opts *RootOptions, r io.Reader, w io.Writer) error {
	var in models.Intake
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return fmt.Errorf("report must be a JSON object: %w", err)
	}

	cls, err := classifier.Classify(in.Unwrap())
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		return writeJSON(w, map[string]any{
			"emergency_type": cls.Type,
			"severity":       cls.Severity,
		})
	}
	_, err = fmt.Fprintf(w, "%s %s\n", cls.Type, cls.Severity)
	return err
}

func NewSeedCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "seed <inventory.yaml>",
		Short:        "Load response resources and teams into the store",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := inventory.Load(args[0])
			if err != nil {
				return err
			}

			cfg, err := opts.LoadConfig()
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			resources, teams, err := inv.Seed(cmd.Context(), store)
			if err != nil {
				return err
			}

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]int{"resources": resources, "teams": teams})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d resources and %d teams\n", resources, teams)
			return err
		},
	}
}

func NewGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "get <emergency-id>",
		Short:        "Show an emergency record",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.LoadConfig()
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			e, err := store.GetEmergency(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("emergency %s: %w", args[0], err)
			}

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), e)
			}
			return printEmergency(cmd.OutOrStdout(), e)
		},
	}
}

func printEmergency(w io.Writer, e *models.Emergency) error {
	_, err := fmt.Fprintf(w, "id:        %s\ntype:      %s\nseverity:  %s\nstatus:    %s\nlocation:  %s\nnotified:  %t\n",
		e.ID, e.Type, e.Severity, e.Status, e.Location, e.NotificationsSent)
	if err != nil {
		return err
	}
	for _, r := range e.AllocatedResources {
		fmt.Fprintf(w, "resource:  %s (%s)\n", r.ID, r.Type)
	}
	if e.ErrorMessage != "" {
		fmt.Fprintf(w, "error:     %s\n", e.ErrorMessage)
	}
	return nil
}

func NewStageCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stage <dispatch|assessment|allocation|notification|report> <emergency-id>",
		Short: "Re-drive one lifecycle stage",
		Long: `Run a single stage against a recorded emergency. Stages are idempotent:
one that already completed returns its stored result.`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := lifecycle.ParseStage(args[0])
			if err != nil {
				return err
			}

			cfg, err := opts.LoadConfig()
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			a.Start(cmd.Context())

			res, runErr := a.Service.RunStage(cmd.Context(), st, args[1])
			if res != nil {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			}
			return runErr
		},
	}
}
