package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mcpbridge/mcpbridge/pkg/jsonrpc"
	"github.com/mcpbridge/mcpbridge/pkg/process"
	"github.com/mcpbridge/mcpbridge/pkg/recorder"
	"github.com/mcpbridge/mcpbridge/pkg/transport"
)

// errServerExited cancels the bridge loops once the spawned server's
// streams end; it is not reported to the user.
var errServerExited = errors.New("server exited")

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <server>",
		Short: "Spawn a server and bridge stdio JSON-RPC to it",
		Args:  cobra.ExactArgs(1),
		RunE:  runBridge,
	}

	cmd.Flags().Bool("report", false, "Print a traffic report on exit")
	cmd.Flags().Bool("verbose", false, "Log transport diagnostics to stderr")

	return cmd
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := loadServerConfig(cmd, args[0])
	if err != nil {
		return err
	}
	if cfg.IsHTTP() {
		return fmt.Errorf("server %q is HTTP; the bridge only spawns stdio servers", cfg.Name)
	}

	report, _ := cmd.Flags().GetBool("report")
	verbose, _ := cmd.Flags().GetBool("verbose")

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := fmt.Sprintf("%s-%s", cfg.Name, uuid.NewString()[:8])
	handle, err := process.StartCommand(session, cfg.Command, cfg.Args, cfg.Env)
	if err != nil {
		return err
	}
	defer handle.Kill()

	rec := recorder.New(session)
	tcfg := &transport.Config{
		Logger:       logger,
		RetryMethods: cfg.RetryMethods,
		Observer:     rec,
		OnReady: func() {
			color.New(color.FgGreen).Fprintf(os.Stderr, "server %s ready\n", cfg.Name)
		},
	}
	if len(cfg.ReadyKeywords) > 0 {
		tcfg.Ready = transport.KeywordReadyMatcher(cfg.ReadyKeywords)
	}

	t := transport.New(handle, tcfg)
	defer t.Close()

	closed := make(chan struct{})
	var closeOnce sync.Once

	var outMu sync.Mutex
	t.OnMessage = func(msg *jsonrpc.Message) {
		wire, err := jsonrpc.Encode(msg)
		if err != nil {
			logger.Warn("encode inbound message", "err", err)
			return
		}
		outMu.Lock()
		defer outMu.Unlock()
		os.Stdout.Write(append(wire, '\n'))
	}
	t.OnError = func(err error) {
		logger.Warn("transport error", "err", err)
	}
	t.OnClose = func() {
		closeOnce.Do(func() { close(closed) })
	}

	if err := t.Start(ctx); err != nil {
		return err
	}
	color.New(color.FgCyan).Fprintf(os.Stderr, "bridging %s (session %s)\n", cfg.Name, session)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pumpStdin(ctx, t, os.Stdin)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-closed:
			return errServerExited
		}
	})

	err = g.Wait()
	t.Close()
	if errors.Is(err, errServerExited) {
		err = nil
	}

	if report {
		data, rerr := rec.MarshalReport()
		if rerr == nil {
			fmt.Fprintln(os.Stderr, string(data))
		}
	}

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// pumpStdin forwards the caller's newline-delimited JSON-RPC lines into the
// transport until stdin closes or the context ends. The scanner runs in its
// own goroutine: a blocked read on stdin must not keep the bridge alive after
// the server is gone.
func pumpStdin(ctx context.Context, t *transport.StdioTransport, r io.Reader) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if len(line) == 0 {
				continue
			}

			msg, err := jsonrpc.Decode(line)
			if err != nil {
				// Not protocol traffic; forward nothing and keep going.
				continue
			}
			if err := t.Send(ctx, msg); err != nil {
				return err
			}
		}
	}
}
