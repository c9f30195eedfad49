package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/austinkregel/local-media/moodd/internal/analysis"
	"github.com/austinkregel/local-media/moodd/internal/config"
	"github.com/austinkregel/local-media/moodd/internal/recommend"
	"github.com/austinkregel/local-media/moodd/internal/scanner"
	"github.com/austinkregel/local-media/moodd/internal/store"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

func newRecommendCommand(ctx *commandContext) *cobra.Command {
	var candidatesPath string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Rank candidates against the current mood and personality",
		Long: "Rank candidates read from a JSON file, or built from the library and its\n" +
			"stored analysis when --candidates is not given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}

			var candidates []recommend.Candidate
			if candidatesPath != "" {
				candidates, err = readCandidates(candidatesPath)
			} else {
				candidates, err = libraryCandidates(cmd, cfg, st)
			}
			if err != nil {
				return err
			}

			core, err := newCore(cfg, st, nil)
			if err != nil {
				return err
			}
			scores := core.Recommend(candidates, time.Now())
			if limit > 0 && len(scores) > limit {
				scores = scores[:limit]
			}

			if asJSON {
				return writeJSON(cmd, scores)
			}

			out := cmd.OutOrStdout()
			state, snap := core.Mood(), core.Personality()
			dominant := "none"
			if snap.Established {
				dominant = snap.Dominant.String()
			}
			fmt.Fprintf(out, "Mood: %s (%.2f)  Personality: %s\n", state.Category, state.Confidence, dominant)

			rows := make([][]string, 0, len(scores))
			for i, s := range scores {
				rows = append(rows, []string{
					fmt.Sprint(i + 1), s.ItemID, f2(s.Total), f2(s.Preference), f2(s.Mood), f2(s.Personality), f2(s.Recency),
				})
			}
			fmt.Fprintln(out, renderTable(out,
				[]string{"#", "Item", "Total", "Preference", "Mood", "Personality", "Recency"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&candidatesPath, "candidates", "", "JSON file with an array of candidates")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum results (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func readCandidates(path string) ([]recommend.Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read candidates: %w", err)
	}
	var candidates []recommend.Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, fmt.Errorf("parse candidates %s: %w", path, err)
	}
	return candidates, nil
}

// libraryCandidates scans the library and attaches stored features by file
// signature. Files never analysed are still offered, without a mood tag.
func libraryCandidates(cmd *cobra.Command, cfg *config.Config, st *store.Store) ([]recommend.Candidate, error) {
	if len(cfg.Library.Paths) == 0 {
		return nil, errors.New("no --candidates file given and library.paths is empty")
	}

	files := make(chan scanner.FileInfo, 64)
	walkErr := make(chan error, 1)
	go func() { walkErr <- scanner.NewScanner().Walk(cmd.Context(), cfg.Library.Paths, files) }()

	var candidates []recommend.Candidate
	for fi := range files {
		var features *types.AudioFeatures
		if st != nil {
			if sig, err := analysis.FileSignature(fi.Path); err == nil {
				if sf, err := st.GetFeatures(sig); err == nil {
					features = &sf.Features
				}
			}
		}
		candidates = append(candidates, recommend.FromFile(fi, features))
	}
	if err := <-walkErr; err != nil {
		return nil, err
	}
	return candidates, nil
}
