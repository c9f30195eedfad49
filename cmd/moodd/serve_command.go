package main

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/austinkregel/local-media/moodd/internal/analysis"
	"github.com/austinkregel/local-media/moodd/internal/engine"
	"github.com/austinkregel/local-media/moodd/internal/ipc"
	"github.com/austinkregel/local-media/moodd/internal/logging"
	"github.com/austinkregel/local-media/moodd/internal/metrics"
	"github.com/austinkregel/local-media/moodd/internal/scanner"
	"github.com/austinkregel/local-media/moodd/internal/supervisor"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

type serveOptions struct {
	eventsStdin bool
	pcmPath     string
	pcmChannels int
	noScan      bool
	socket      string
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervised daemon",
		Long: "Run the engine loop, background analysis of the library, the time-of-day\n" +
			"scheduler, the control socket and, when enabled, the metrics endpoint. Interaction\n" +
			"events can be streamed as JSON lines on stdin or sent over the socket, and live\n" +
			"audio read as raw 16-bit PCM from a file or FIFO.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, ctx, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.eventsStdin, "events-stdin", false, "Read interaction events as JSON lines from stdin")
	cmd.Flags().StringVar(&opts.pcmPath, "pcm", "", "File or FIFO with interleaved 16-bit PCM for real-time analysis")
	cmd.Flags().IntVar(&opts.pcmChannels, "pcm-channels", 2, "Channel count of the --pcm stream")
	cmd.Flags().BoolVar(&opts.noScan, "no-scan", false, "Skip the initial library scan")
	cmd.Flags().StringVar(&opts.socket, "socket", "", "Control socket path (overrides ipc.socket)")
	return cmd
}

func runServe(cmd *cobra.Command, cctx *commandContext, opts serveOptions) error {
	cfg, err := cctx.ensureConfig()
	if err != nil {
		return err
	}
	log := logging.With("serve")

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	cache := analysis.NewFeatureCache(cfg.Cache.Size, cfg.Cache.TTL, nil)
	warmCache(st, cache)
	core, err := newCore(cfg, st, cache)
	if err != nil {
		return err
	}

	results := make(chan analysis.Result, cfg.Worker.QueueSize)
	features := make(chan types.AudioFeatures, 16)
	events := make(chan types.InteractionEvent, 64)
	ticks := make(chan time.Time, 1)

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())

	var (
		isPlaying func() bool
		tap       *analysis.Tap
		server    *ipc.Server
	)
	if opts.pcmPath != "" {
		tap, err = newTap(cfg)
		if err != nil {
			return err
		}
		tap.SetCallback(func(f types.AudioFeatures) {
			select {
			case features <- f:
			default:
			}
			if server != nil {
				server.PublishFeatures(f)
			}
		})
		path := opts.pcmPath
		tapSvc := supervisor.NewTapService(tap, func() (io.ReadCloser, error) {
			return os.Open(path)
		}, opts.pcmChannels)
		isPlaying = tapSvc.Active
		tree.AddAnalysisService(tapSvc)
	}

	worker, err := newWorker(cfg, cache, isPlaying)
	if err != nil {
		return err
	}
	tree.AddAnalysisService(supervisor.NewWorkerService(worker, results))
	if !opts.noScan {
		tree.AddAnalysisService(supervisor.NewLibraryScanService(scanner.NewScanner(), cfg.Library.Paths, worker))
	}

	tree.AddCoreService(supervisor.NewEngineService(core, engine.Inputs{
		Results:  results,
		Features: features,
		Events:   events,
		Ticks:    ticks,
	}))
	tree.AddCoreService(supervisor.NewSchedulerService(cfg.Mood.TimeOfDayInterval, nil, ticks))
	if opts.eventsStdin {
		tree.AddCoreService(supervisor.NewEventReaderService(cmd.InOrStdin(), events))
	}
	if cfg.IPC.Enabled {
		socket := cfg.IPC.Socket
		if opts.socket != "" {
			socket = opts.socket
		}
		scfg := ipc.ServerConfig{SocketPath: socket, Engine: core, Analyzer: worker, Events: events}
		if tap != nil {
			scfg.Features = tap
		}
		server, err = ipc.NewServer(scfg)
		if err != nil {
			return err
		}
		tree.AddCoreService(server)
	}
	if cfg.Metrics.Enabled {
		tree.AddCoreService(&metrics.Server{Addr: cfg.Metrics.Addr})
		log.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics endpoint enabled")
	}

	log.Info().Strs("library", cfg.Library.Paths).Bool("store", st != nil).Msg("moodd starting")
	if err := tree.Serve(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("moodd stopped")
	return nil
}
