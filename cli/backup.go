package cli

import (
	"errors"
	"fmt"

	"clipvault/backup"

	"github.com/spf13/cobra"
)

func newExportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "导出备份（加密启用时用当前密码加密）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Backup().ExportFile(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已导出 %d 条记录到 %s\n", a.Store().Len(), args[0])
			return finish(cmd, a)
		},
	}
}

func newImportCommand(opts *RootOptions) *cobra.Command {
	var backupPassword string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "从备份恢复，与现有记录合并",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			password := backupPassword
			if !cmd.Flags().Changed("backup-password") {
				password = opts.Password
			}

			n, err := a.Backup().ImportFile(cmd.Context(), args[0], password)
			if errors.Is(err, backup.ErrDecrypt) {
				return errors.New("密码错误或备份文件已损坏")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已导入 %d 条记录\n", n)
			return finish(cmd, a)
		},
	}

	cmd.Flags().StringVar(&backupPassword, "backup-password", "", "备份文件的密码（默认与 --password 相同）")
	return cmd
}
