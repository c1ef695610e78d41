package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/orchestrator"
	"genflow/internal/polling"
	"genflow/internal/providers/jimeng"
	"genflow/internal/storage"
)

type cli struct {
	cfg    *infra.Config
	logger infra.Logger
	svc    *orchestrator.Service
}

func main() {
	c := &cli{}
	root := &cobra.Command{
		Use:           "generate",
		Short:         "Submit generation tasks and track them to completion",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.svc != nil {
				c.svc.Close()
			}
		},
	}
	root.AddCommand(newRunCommand(c, domain.TaskKindImage), newRunCommand(c, domain.TaskKindVideo), newStatusCommand(c))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func (c *cli) init() error {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = infra.NewLogger(cfg.AppEnv)

	client, err := jimeng.NewClient(jimeng.Options{
		SessionID:      cfg.JimengSessionID,
		BaseURL:        cfg.JimengBaseURL,
		BatchCap:       cfg.BatchCap,
		Logger:         &c.logger,
		RequestTimeout: cfg.JimengTimeout,
	})
	if err != nil {
		return err
	}
	c.svc, err = orchestrator.New(orchestrator.Options{
		Remote:   client,
		BatchCap: cfg.BatchCap,
		Poll: polling.Config{
			InitialInterval: cfg.PollInitial,
			MaxInterval:     cfg.PollMaxInterval,
			BackoffFactor:   cfg.PollBackoff,
			Timeout:         cfg.PollTimeout,
		},
		MaxRetries: cfg.PollMaxRetries,
		TaskTTL:    cfg.TaskTTL,
		Logger:     &c.logger,
	})
	return err
}

func newRunCommand(c *cli, kind domain.TaskKind) *cobra.Command {
	var (
		params domain.GenerationParams
		async  bool
		save   bool
	)
	cmd := &cobra.Command{
		Use:   string(kind) + " PROMPT",
		Short: fmt.Sprintf("Generate %s output for a prompt", kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Kind = kind
			params.Prompt = args[0]
			tracked, err := c.svc.SubmitAndTrack(cmd.Context(), params, orchestrator.TrackOptions{Async: async})
			if err != nil {
				return err
			}
			if save && tracked.Result != nil {
				keys, err := c.save(cmd.Context(), *tracked.Result)
				if err != nil {
					return err
				}
				c.logger.Info().Str("task_id", tracked.TaskID).Strs("keys", keys).Msg("generate: assets saved")
			}
			return printJSON(tracked)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&params.NegativePrompt, "negative", "", "negative prompt")
	flags.StringVar(&params.Model, "model", "", "remote model key")
	flags.StringVar(&params.AspectRatio, "ratio", "", "aspect ratio, e.g. 16:9")
	flags.IntVar(&params.Width, "width", 0, "output width")
	flags.IntVar(&params.Height, "height", 0, "output height")
	flags.StringSliceVar(&params.ReferenceImages, "ref", nil, "reference image path or URL (repeatable)")
	if kind == domain.TaskKindVideo {
		flags.IntVar(&params.DurationSeconds, "duration", 5, "clip length in seconds")
	} else {
		flags.IntVar(&params.Count, "count", 1, "number of images")
	}
	flags.BoolVar(&async, "async", false, "return the task id without waiting")
	flags.BoolVar(&save, "save", true, "download the result into STORAGE_PATH")
	return cmd
}

func newStatusCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status TASK_ID...",
		Short: "Query the status of one or more tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				view, err := c.svc.QueryOne(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(view)
			}
			return printJSON(c.svc.QueryMany(cmd.Context(), args))
		},
	}
}

func (c *cli) save(ctx context.Context, result domain.Result) ([]string, error) {
	store, err := storage.NewFileStore(c.cfg.StoragePath)
	if err != nil {
		return nil, err
	}
	assets, err := storage.NewFetcher(storage.FetcherOptions{Logger: &c.logger}).FetchResult(ctx, result)
	if err != nil {
		return nil, err
	}
	return store.SaveAssets(ctx, result.TaskID, assets)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
