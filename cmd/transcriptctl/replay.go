package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/multi-agent/agent-shell/internal/eventlog"
	"github.com/multi-agent/agent-shell/internal/termview"
	"github.com/multi-agent/agent-shell/internal/transcript"
	"github.com/multi-agent/agent-shell/pkg/logger"
)

const (
	// clearScreen 光标归位并清屏。
	clearScreen = "\x1b[H\x1b[2J"

	redrawInterval = 100 * time.Millisecond
)

type replayOptions struct {
	follow bool
	width  int
	style  string
}

func newReplayCmd() *cobra.Command {
	var opts replayOptions
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Render a recorded agent event log in the terminal",
		Long: `Feeds every line of FILE (one JSON event per line, "-" for stdin)
through a transcript session and prints the rendered transcript. With
--follow the file is watched and the transcript is redrawn as new events
are appended.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if opts.follow && args[0] == "-" {
				return fmt.Errorf("--follow needs a file, not stdin")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			session := transcript.NewSession(cfg.Transcript(), transcript.Deps{})
			defer session.Close()
			r := &replayer{
				out:     cmd.OutOrStdout(),
				session: session,
				view:    termview.New(termview.Options{Width: opts.width, Style: opts.style}),
				maxLine: cfg.MaxEventBytes,
			}
			if opts.follow {
				return r.follow(ctx, args[0])
			}
			return r.once(ctx, cmd.InOrStdin(), args[0])
		},
	}
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "keep watching FILE and redraw on new events")
	cmd.Flags().IntVarP(&opts.width, "width", "w", 0, "wrap width (0 = 80)")
	cmd.Flags().StringVar(&opts.style, "style", "", "glamour style: dark, light, notty (default auto)")
	return cmd
}

type replayer struct {
	out     io.Writer
	session *transcript.Session
	view    *termview.Renderer
	maxLine int
	dirty   atomic.Bool
}

func (r *replayer) apply(line []byte) {
	if r.session.ProcessEvent(line) {
		r.dirty.Store(true)
	}
}

func (r *replayer) draw(prefix string) {
	fmt.Fprint(r.out, prefix+r.view.Render(r.session.CurrentTranscript()))
}

// once 回放全部内容后输出一次最终视图。
func (r *replayer) once(ctx context.Context, stdin io.Reader, path string) error {
	var (
		n   int
		err error
	)
	if path == "-" {
		n, err = eventlog.ReadAll(ctx, stdin, r.maxLine, r.apply)
	} else {
		n, err = eventlog.ReadFile(ctx, path, r.maxLine, r.apply)
	}
	if err != nil {
		return err
	}
	logger.Debug("transcriptctl: replayed", logger.FieldFile, path, logger.FieldCount, n)
	r.draw("")
	return nil
}

// follow 跟随文件追加, 按固定节拍合并重绘。
func (r *replayer) follow(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("follow %s: %w", path, err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eventlog.Follow(gctx, path, r.maxLine, r.apply) })
	g.Go(func() error {
		ticker := time.NewTicker(redrawInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if r.dirty.Swap(false) {
					r.draw(clearScreen)
				}
			}
		}
	})
	return g.Wait()
}
