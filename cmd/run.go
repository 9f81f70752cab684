// -- cmd/run.go --
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/weiyun0912/webpilot/internal/agent"
	"github.com/weiyun0912/webpilot/internal/browser"
	"github.com/weiyun0912/webpilot/internal/config"
	"github.com/weiyun0912/webpilot/internal/observability"
	"github.com/weiyun0912/webpilot/internal/vision"
)

// errQuit signals a user-requested exit from the interactive loop.
var errQuit = errors.New("quit requested")

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [goal...]",
		Short: "Run a browsing task. Without arguments an interactive loop reads goals from stdin.",
		RunE:  runAgent,
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewConfigFromViper(viper.GetViper())
	if err != nil {
		return err
	}
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := browser.NewManager(cfg, logger)
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser shutdown incomplete", zap.Error(err))
		}
	}()

	controller := browser.NewController(manager, cfg, logger)
	model, err := vision.NewClient(cfg.Vision, logger)
	if err != nil {
		return fmt.Errorf("failed to build vision client: %w", err)
	}

	locator := agent.NewLocator(model, controller, cfg.Vision, logger)
	executor := agent.NewExecutor(controller, locator, cfg, logger)
	coordinator := agent.NewCoordinator(
		agent.NewPlanner(model, cfg.Agent, logger),
		executor,
		agent.NewVerifier(model, logger),
		cfg.Agent,
		logger,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if len(args) > 0 {
			return runTask(gctx, cmd.OutOrStdout(), coordinator, strings.Join(args, " "))
		}
		return runInteractive(gctx, cmd, coordinator)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

// runInteractive reads goals from stdin until quit/exit/q/退出 or EOF. The
// stdin reader runs on its own goroutine so an interrupt cancels the loop
// even while a read is pending.
func runInteractive(ctx context.Context, cmd *cobra.Command, coordinator *agent.Coordinator) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "输入任务目标，例如：打开谷歌并搜索南京邮电大学官网（quit 退出）")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case goal, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.ToLower(goal) {
			case "":
				continue
			case "quit", "exit", "q", "退出":
				return errQuit
			}
			if err := runTask(ctx, out, coordinator, goal); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				// A broken task ends the task, not the session.
				fmt.Fprintf(out, "任务失败：%v\n", err)
			}
		}
	}
}

// runTask drives one goal to completion and prints the transcript.
func runTask(ctx context.Context, out io.Writer, coordinator *agent.Coordinator, goal string) error {
	state, err := coordinator.Run(ctx, goal)
	if state != nil {
		printTranscript(out, state)
	}
	return err
}

func printTranscript(out io.Writer, state *agent.TaskState) {
	fmt.Fprintf(out, "\n===== 任务轨迹 %s =====\n", state.TaskID)
	for i, entry := range state.Transcript {
		fmt.Fprintf(out, "[%d] %s\n", i+1, entry)
	}
	if result := state.ToolResult; result != nil {
		fmt.Fprintf(out, "最终动作: %s\n", result.ActionType)
		fmt.Fprintf(out, "最终结果: success=%t verified=%t\n", result.Success, result.VerifiedSuccess)
		fmt.Fprintf(out, "最终消息: %s\n", result.Message)
	}
	fmt.Fprintln(out, "=====================")
}
