package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/austinkregel/local-media/moodd/internal/analysis"
	"github.com/austinkregel/local-media/moodd/internal/logging"
	"github.com/austinkregel/local-media/moodd/internal/mood"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

type trackReport struct {
	Path       string              `json:"path"`
	Features   types.AudioFeatures `json:"features"`
	Mood       string              `json:"mood"`
	Confidence float64             `json:"confidence"`
	Error      string              `json:"error,omitempty"`
}

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze <file...>",
		Short: "Extract features and classify the mood of audio files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			ext, err := newExtractor(cfg)
			if err != nil {
				return err
			}
			dec := analysis.NewDecoder()
			enricher := newEnricher(cfg)

			reports := make([]trackReport, 0, len(args))
			failed := 0
			for _, path := range args {
				r := trackReport{Path: path}
				f, err := analyzeFile(cmd, dec, ext, enricher, path)
				if err != nil {
					r.Error = err.Error()
					failed++
				} else {
					cls := mood.Classify(f)
					r.Features, r.Mood, r.Confidence = f, cls.Category.String(), cls.Confidence
				}
				reports = append(reports, r)
			}

			if asJSON {
				if err := writeJSON(cmd, reports); err != nil {
					return err
				}
			} else {
				printReports(cmd, reports)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func analyzeFile(cmd *cobra.Command, dec *analysis.Decoder, ext *analysis.Extractor, enricher analysis.FeatureEnricher, path string) (types.AudioFeatures, error) {
	ctx := cmd.Context()
	buf, err := dec.DecodeFile(ctx, path)
	if err != nil {
		return types.AudioFeatures{}, err
	}
	f, err := ext.ProcessPCM(ctx, buf)
	if err != nil {
		return types.AudioFeatures{}, err
	}
	if enricher != nil {
		if enriched, err := enricher.Enrich(ctx, f); err == nil {
			f = enriched
		} else {
			logging.Debug().Err(err).Str("path", path).Msg("classifier skipped")
		}
	}
	return f, nil
}

func printReports(cmd *cobra.Command, reports []trackReport) {
	out := cmd.OutOrStdout()
	headers := []string{"File", "Tempo", "Energy", "Valence", "Dance", "Acoustic", "Mood", "Confidence"}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft, alignRight}

	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		if r.Error != "" {
			rows = append(rows, []string{r.Path, "", "", "", "", "", "error: " + r.Error, ""})
			continue
		}
		f := r.Features
		rows = append(rows, []string{
			r.Path,
			fmt.Sprintf("%.1f", f.Tempo),
			f2(f.Energy),
			f2(f.Valence),
			f2(f.Danceability),
			f2(f.Acousticness),
			r.Mood,
			f2(r.Confidence),
		})
	}
	fmt.Fprintln(out, renderTable(out, headers, rows, aligns))
}
