package main

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/austinkregel/local-media/moodd/internal/analysis"
	"github.com/austinkregel/local-media/moodd/internal/mood"
	"github.com/austinkregel/local-media/moodd/internal/scanner"
	"github.com/austinkregel/local-media/moodd/internal/supervisor"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

type scanTally struct {
	analyzed int
	cached   int
	failed   int
	moods    [types.NumMoods]int
	stored   int
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var rescan bool

	cmd := &cobra.Command{
		Use:   "scan [dir...]",
		Short: "Analyse every audio file under the given directories (default: library paths)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			paths := args
			if len(paths) == 0 {
				paths = cfg.Library.Paths
			}
			if len(paths) == 0 {
				return errors.New("no directories given and library.paths is empty")
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
				if rescan {
					if err := st.ClearFeatures(); err != nil {
						return err
					}
				}
			}

			cache := analysis.NewFeatureCache(cfg.Cache.Size, cfg.Cache.TTL, nil)
			warmCache(st, cache)
			core, err := newCore(cfg, st, cache)
			if err != nil {
				return err
			}
			worker, err := newWorker(cfg, cache, nil)
			if err != nil {
				return err
			}

			runCtx := cmd.Context()
			if err := worker.Start(runCtx); err != nil {
				return err
			}

			var tally scanTally
			var pending sync.WaitGroup
			consumed := make(chan struct{})
			go func() {
				defer close(consumed)
				for r := range worker.Results() {
					core.HandleResult(r)
					switch {
					case r.Err != nil:
						tally.failed++
					case r.Cached:
						tally.cached++
						tally.moods[mood.Classify(r.Features).Category]++
					default:
						tally.analyzed++
						tally.moods[mood.Classify(r.Features).Category]++
					}
					pending.Done()
				}
			}()

			files := make(chan scanner.FileInfo, 64)
			walkErr := make(chan error, 1)
			sc := scanner.NewScanner()
			go func() { walkErr <- sc.Walk(runCtx, paths, files) }()

			var submitErr error
			for fi := range files {
				if submitErr != nil {
					continue
				}
				pending.Add(1)
				if err := supervisor.SubmitWait(runCtx, worker, analysis.Job{Path: fi.Path}); err != nil {
					pending.Done()
					submitErr = err
					sc.Stop()
				}
			}
			if err := <-walkErr; err != nil && submitErr == nil {
				submitErr = err
			}

			drained := make(chan struct{})
			go func() {
				pending.Wait()
				close(drained)
			}()
			select {
			case <-drained:
			case <-runCtx.Done():
			}
			worker.Stop()
			<-consumed

			if err := core.Save(); err != nil {
				return fmt.Errorf("save state: %w", err)
			}
			if submitErr != nil {
				return submitErr
			}
			if st != nil {
				if n, err := st.AnalyzedCount(); err == nil {
					tally.stored = n
				}
			}
			printTally(cmd, tally, core.Mood())
			return nil
		},
	}

	cmd.Flags().BoolVar(&rescan, "rescan", false, "Discard stored features and analyse every file again")
	return cmd
}

func printTally(cmd *cobra.Command, t scanTally, current mood.State) {
	out := cmd.OutOrStdout()
	rows := make([][]string, 0, types.NumMoods)
	for _, m := range types.AllMoods() {
		if n := t.moods[m]; n > 0 {
			rows = append(rows, []string{m.String(), fmt.Sprint(n)})
		}
	}
	fmt.Fprintln(out, renderTable(out, []string{"Mood", "Tracks"}, rows, []columnAlignment{alignLeft, alignRight}))
	fmt.Fprintf(out, "Analyzed %d, cached %d, failed %d\n", t.analyzed, t.cached, t.failed)
	if t.stored > 0 {
		fmt.Fprintf(out, "Stored features: %d\n", t.stored)
	}
	fmt.Fprintf(out, "Current mood: %s (%.2f)\n", current.Category, current.Confidence)
}
