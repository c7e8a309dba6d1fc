package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPasswordCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "设置、更换或删除加密密码",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <new-password>",
		Short: "设置或更换密码，已有记录会重新加密",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ChangePassword(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "密码已更新")
			return finish(cmd, a)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove",
		Short: "删除密码，记录改为明文保存",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.Engine().Enabled() {
				fmt.Fprintln(cmd.OutOrStdout(), "未设置密码")
				return nil
			}
			if err := a.DisableEncryption(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "密码已删除")
			return finish(cmd, a)
		},
	})

	return cmd
}
