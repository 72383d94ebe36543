package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/frottis-lab/dashboard/pkg/backend"
	"github.com/frottis-lab/dashboard/pkg/common/config"
	"github.com/frottis-lab/dashboard/pkg/common/kafka"
	"github.com/frottis-lab/dashboard/pkg/common/logger"
	"github.com/frottis-lab/dashboard/pkg/common/models"
	"github.com/frottis-lab/dashboard/pkg/dashboard"
	"github.com/frottis-lab/dashboard/pkg/export"
	"github.com/spf13/cobra"
)

const cliActor = "dashboard-cli"

type options struct {
	backendURL string
	labelsFile string
	verbose    bool
}

func main() {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "dashboard-cli",
		Short:         "Operator CLI for patients and smear analyses",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(cliActor)
			logger.Log.SetOutput(os.Stderr)
			if !opts.verbose {
				logger.Silence()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.backendURL, "backend", "", "Backend base URL (default BACKEND_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&opts.labelsFile, "labels", "", "Labels yaml file (default LABELS_FILE)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log to stderr")

	rootCmd.AddCommand(
		newPatientsCmd(opts),
		newAnalysesCmd(opts),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, dashboard.UserMessage(err, err.Error()))
		os.Exit(1)
	}
}

// service builds the dashboard service; events are published only when
// KAFKA_BROKERS is set.
func (o *options) service() (*dashboard.Service, func(), error) {
	cfg := config.Load()
	if o.backendURL != "" {
		cfg.BackendBaseURL = o.backendURL
	}
	if o.labelsFile != "" {
		cfg.LabelsFile = o.labelsFile
	}
	labels, err := export.LoadLabels(cfg.LabelsFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load labels: %w", err)
	}

	cleanup := func() {}
	var events dashboard.EventPublisher
	if cfg.KafkaEnabled() {
		producer := kafka.NewProducer(cfg)
		events = producer
		cleanup = func() { _ = producer.Close() }
	}
	return dashboard.NewService(backend.New(cfg), labels, events), cleanup, nil
}

func (o *options) run(fn func(ctx context.Context, svc *dashboard.Service) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := o.service()
		if err != nil {
			return err
		}
		defer cleanup()
		return fn(cmd.Context(), svc)
	}
}

func newPatientsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patients",
		Short: "Manage patients",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every patient",
			Args:  cobra.NoArgs,
			RunE: opts.run(func(ctx context.Context, svc *dashboard.Service) error {
				patients, err := svc.ListPatients(ctx)
				if err != nil {
					return err
				}
				return printJSON(patients)
			}),
		},
		newPatientShowCmd(opts),
		newPatientCreateCmd(opts),
		newPatientUpdateCmd(opts),
		newPatientDeleteCmd(opts),
	)
	return cmd
}

func newPatientShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show [patient-id]",
		Short: "Show a patient with its analysis count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(ctx context.Context, svc *dashboard.Service) error {
				summary, err := svc.GetPatientSummary(ctx, models.ID(args[0]))
				if err != nil {
					return err
				}
				return printJSON(summary)
			})(cmd, args)
		},
	}
}

func newPatientCreateCmd(opts *options) *cobra.Command {
	var in models.PatientInput
	var sex string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new patient",
		Long: `Register a new patient. The form is validated before it is sent.

Example: dashboard-cli patients create --nom "Awa Diallo" --sexe Feminin --age 31`,
		Args: cobra.NoArgs,
		RunE: opts.run(func(ctx context.Context, svc *dashboard.Service) error {
			in.Sex = models.Sex(sex)
			patient, err := svc.CreatePatient(ctx, in, cliActor)
			if err != nil {
				return formError(err)
			}
			return printJSON(patient)
		}),
	}

	cmd.Flags().StringVar(&in.Name, "nom", "", "Patient name")
	cmd.Flags().StringVar(&sex, "sexe", "", "Masculin|Feminin")
	cmd.Flags().IntVar(&in.Age, "age", 0, "Age in years")
	cmd.Flags().StringVar(&in.Email, "email", "", "Optional email")
	return cmd
}

func newPatientUpdateCmd(opts *options) *cobra.Command {
	var (
		name, sex, email string
		age              int
	)

	cmd := &cobra.Command{
		Use:   "update [patient-id]",
		Short: "Update the given fields of a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd models.PatientUpdate
			flags := cmd.Flags()
			if flags.Changed("nom") {
				upd.Name = &name
			}
			if flags.Changed("sexe") {
				s := models.Sex(sex)
				upd.Sex = &s
			}
			if flags.Changed("age") {
				upd.Age = &age
			}
			if flags.Changed("email") {
				upd.Email = &email
			}
			return opts.run(func(ctx context.Context, svc *dashboard.Service) error {
				patient, err := svc.UpdatePatient(ctx, models.ID(args[0]), upd, cliActor)
				if err != nil {
					return formError(err)
				}
				return printJSON(patient)
			})(cmd, args)
		},
	}

	cmd.Flags().StringVar(&name, "nom", "", "Patient name")
	cmd.Flags().StringVar(&sex, "sexe", "", "Masculin|Feminin")
	cmd.Flags().IntVar(&age, "age", 0, "Age in years")
	cmd.Flags().StringVar(&email, "email", "", "Email")
	return cmd
}

func newPatientDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [patient-id]",
		Short: "Delete a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(ctx context.Context, svc *dashboard.Service) error {
				if err := svc.DeletePatient(ctx, models.ID(args[0]), cliActor); err != nil {
					return err
				}
				fmt.Println("Patient supprimé avec succès")
				return nil
			})(cmd, args)
		},
	}
}

func newAnalysesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyses",
		Short: "Browse, submit and export smear analyses",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "overview",
			Short: "Every patient with the analyses recorded under its code",
			Args:  cobra.NoArgs,
			RunE: opts.run(func(ctx context.Context, svc *dashboard.Service) error {
				rows, err := svc.AnalysesOverview(ctx)
				if err != nil {
					return err
				}
				return printJSON(rows)
			}),
		},
		&cobra.Command{
			Use:   "show [patient-id]",
			Short: "Decoded analyses of one patient",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.run(func(ctx context.Context, svc *dashboard.Service) error {
					view, err := svc.PatientAnalyses(ctx, models.ID(args[0]))
					if err != nil {
						return err
					}
					return printJSON(view)
				})(cmd, args)
			},
		},
		newAnalyseSubmitCmd(opts),
		newExportCmd(opts),
	)
	return cmd
}

func newAnalyseSubmitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "submit [patient-id] [image]",
		Short: "Submit a smear image for classification",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.Open(filepath.Clean(args[1]))
			if err != nil {
				return err
			}
			defer image.Close()

			return opts.run(func(ctx context.Context, svc *dashboard.Service) error {
				outcome, err := svc.Analyse(ctx, models.ID(args[0]), filepath.Base(args[1]), image, cliActor)
				if err != nil {
					return err
				}
				return printJSON(outcome)
			})(cmd, args)
		},
	}
}

func newExportCmd(opts *options) *cobra.Command {
	var format string
	var outDir string

	cmd := &cobra.Command{
		Use:   "export [patient-id]",
		Short: "Export the analyses of a patient",
		Long: `Write patient_{id}_analyses.csv (or .xlsx) into the output directory.
Nothing is written when the patient has no analyses.

Example: dashboard-cli analyses export 12 --format xlsx --out ./exports`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			return opts.run(func(ctx context.Context, svc *dashboard.Service) error {
				file, err := svc.Export(ctx, models.ID(args[0]), f, cliActor)
				if errors.Is(err, export.ErrNoRows) {
					fmt.Fprintln(os.Stderr, "Aucune analyse à exporter")
					return nil
				}
				if err != nil {
					return err
				}
				path := filepath.Join(outDir, file.Name)
				if err := os.WriteFile(path, file.Data, 0o644); err != nil {
					return fmt.Errorf("failed to write export: %w", err)
				}
				fmt.Println(path)
				return nil
			})(cmd, args)
		},
	}

	cmd.Flags().StringVar(&format, "format", "csv", "Export format: csv|xlsx")
	cmd.Flags().StringVar(&outDir, "out", ".", "Output directory")
	return cmd
}

func formError(err error) error {
	var ve dashboard.ValidationError
	if errors.As(err, &ve) {
		for field, msg := range ve.Fields {
			fmt.Fprintf(os.Stderr, "%s: %s\n", field, msg)
		}
		return errors.New("Formulaire invalide")
	}
	return err
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
