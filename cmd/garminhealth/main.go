package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	garminhealth "github.com/lucasjlepore/garmin-health"
	"github.com/lucasjlepore/garmin-health/config"
	"github.com/lucasjlepore/garmin-health/pipeline"
	"github.com/lucasjlepore/garmin-health/series"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error (%s): %v\n", garminhealth.ErrorKind(err), err)
		stop()
		os.Exit(1)
	}
}

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	verbose    bool
	cfg        *config.Config
	log        *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "garminhealth",
		Short:         "Query wearable health series and analyze activity recordings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.garmin-health/config.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newAtCmd(a))
	root.AddCommand(newAnalyzeCmd(a))
	root.AddCommand(newExportCmd(a))
	root.AddCommand(newConfigCmd(a))
	return root
}

func (a *app) init(stderr io.Writer) error {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	a.log = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	path := a.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	a.configPath = path
	a.cfg = cfg
	a.log.Debug("config loaded", "path", path, "timezone", cfg.Timezone, "export_format", cfg.Export.Format)
	return nil
}

func newAtCmd(a *app) *cobra.Command {
	var (
		date      string
		input     string
		policy    string
		errorJSON bool
	)
	cmd := &cobra.Command{
		Use:   "at <metric> <time>",
		Short: "Resolve a metric at a time of day from a day-series payload",
		Long: "Resolve a metric at a time of day from a day-series payload.\n\n" +
			"Metrics: " + strings.Join(series.MetricNames(), ", ") + "\n" +
			"Times: 15:04, 15:04:05, 3pm, 3:30 PM, noon, midnight",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.cfg.Metric(args[0])
			if err != nil {
				return err
			}
			if policy != "" {
				p, err := series.ParsePolicy(policy)
				if err != nil {
					return err
				}
				m = m.WithPolicy(p)
			}
			loc, err := a.cfg.Location()
			if err != nil {
				return err
			}
			payload, err := readInput(cmd.InOrStdin(), input)
			if err != nil {
				return err
			}

			r, err := garminhealth.MetricAt(payload, m, args[1], date, loc)
			if err != nil {
				if errorJSON {
					return writeJSON(cmd.OutOrStdout(), map[string]string{
						"error":   string(garminhealth.ErrorKind(err)),
						"message": err.Error(),
					})
				}
				return err
			}
			a.log.Debug("resolved", "metric", r.Metric, "policy", r.Policy, "sample", r.Timestamp, "interpolated", r.Interpolated)
			return writeJSON(cmd.OutOrStdout(), r)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date YYYY-MM-DD (default today)")
	cmd.Flags().StringVarP(&input, "input", "i", "-", "day-series JSON file, - for stdin")
	cmd.Flags().StringVar(&policy, "policy", "", "override the lookup policy: exact|nearest|interpolate")
	cmd.Flags().BoolVar(&errorJSON, "error-json", false, "report lookup failures as a JSON error object on stdout")
	return cmd
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		jsonOut bool
		maxHR   float64
	)
	cmd := &cobra.Command{
		Use:   "analyze <file>...",
		Short: "Summarize FIT, GPX or TCX recordings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := a.cfg.AnalysisOptions()
			if maxHR > 0 {
				opts.MaxHR = maxHR
			}
			results, err := pipeline.AnalyzeFiles(cmd.Context(), args, opts)
			if err != nil {
				return err
			}

			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					a.log.Error("analysis failed", "file", r.Path, "kind", r.Kind, "error", r.Err)
					continue
				}
				for _, w := range r.Summary.Warnings {
					a.log.Warn("decoder warning", "file", r.Path, "warning", w)
				}
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				if err := writeJSON(out, results); err != nil {
					return err
				}
			} else {
				for i, r := range results {
					if r.Err != nil {
						continue
					}
					if i > 0 {
						_, _ = fmt.Fprintln(out)
					}
					_, _ = fmt.Fprintf(out, "# %s\n%s", r.Path, r.Summary.Notes)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d file(s) failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit summaries as JSON")
	cmd.Flags().Float64Var(&maxHR, "max-hr", 0, "max heart rate for zones (overrides config)")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		outDir     string
		format     string
		overwrite  bool
		copySource bool
	)
	cmd := &cobra.Command{
		Use:   "export <file>...",
		Short: "Write summary, notes and normalized track points for recordings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outDir == "" {
				outDir = a.cfg.Export.OutputDir
			}
			if strings.TrimSpace(outDir) == "" {
				return fmt.Errorf("--out is required")
			}
			if format == "" {
				format = a.cfg.Export.Format
			}
			opts := pipeline.Options{
				Format:     format,
				Overwrite:  overwrite || a.cfg.Export.Overwrite,
				CopySource: copySource,
				Analysis:   a.cfg.AnalysisOptions(),
			}

			var results []*pipeline.Result
			if len(args) == 1 {
				opts.InputPath = args[0]
				opts.OutDir = outDir
				res, err := pipeline.Run(opts)
				if err != nil {
					return err
				}
				results = append(results, res)
			} else {
				res, err := pipeline.ExportFiles(cmd.Context(), args, outDir, opts)
				if err != nil {
					return err
				}
				results = res
			}

			out := cmd.OutOrStdout()
			for _, res := range results {
				a.log.Info("export complete", "run_id", res.RunID, "dir", res.OutputDir)
				_, _ = fmt.Fprintf(out, "Output dir:    %s\n", res.OutputDir)
				_, _ = fmt.Fprintf(out, "manifest.json: %s\n", res.ManifestPath)
				_, _ = fmt.Fprintf(out, "summary.json:  %s\n", res.SummaryPath)
				_, _ = fmt.Fprintf(out, "notes.md:      %s\n", res.NotesPath)
				_, _ = fmt.Fprintf(out, "track points:  %s\n", res.PointsPath)
				if res.SourceCopyPath != "" {
					_, _ = fmt.Fprintf(out, "source copy:   %s\n", res.SourceCopyPath)
				}
				for _, w := range res.Summary.Warnings {
					_, _ = fmt.Fprintf(out, "warning:       %s\n", w)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default export.output_dir)")
	cmd.Flags().StringVar(&format, "format", "", "track point format: parquet|csv|sqlite (default export.format)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "allow writing into non-empty output directories")
	cmd.Flags().BoolVar(&copySource, "copy-source", true, "copy the source recording next to the artifacts")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Inspect or create the config file"}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", a.configPath, data)
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(a.configPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to replace)", a.configPath)
			}
			cfg := config.Default()
			if err := config.Save(a.configPath, &cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", a.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "replace an existing config file")
	cfgCmd.AddCommand(initCmd)
	return cfgCmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
