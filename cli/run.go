package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "在前台监听剪贴板并记录历史，Ctrl+C 退出",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case err := <-a.Alerts():
						fmt.Fprintf(cmd.ErrOrStderr(), "警告: %v\n", err)
					}
				}
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "正在监听剪贴板（已有 %d 条记录）\n", a.Store().Len())
			if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return finish(cmd, a)
		},
	}
}
