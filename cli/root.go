// Package cli 命令行入口：监听剪贴板、查看和管理历史记录、备份与密码。
package cli

import (
	"errors"
	"fmt"
	"os"

	"clipvault/app"
	"clipvault/clipboard"

	"github.com/spf13/cobra"
)

// RootOptions 全局参数
type RootOptions struct {
	ConfigPath   string
	KeystorePath string
	Password     string
	Verbose      bool

	// Pasteboard 覆盖系统剪贴板（测试用）
	Pasteboard clipboard.Pasteboard
}

// NewRootCommand 创建根命令
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "clipvault",
		Short:         "加密的剪贴板历史管理器",
		Long:          "记录剪贴板中的文本、图片和文件，加密保存在本地，支持置顶、搜索、备份和恢复。",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "配置文件路径（默认在用户配置目录）")
	cmd.PersistentFlags().StringVar(&opts.KeystorePath, "keystore", "", "凭据文件路径（默认与配置文件同目录）")
	cmd.PersistentFlags().StringVarP(&opts.Password, "password", "p", os.Getenv("CLIPVAULT_PASSWORD"), "解锁密码（也可以通过 CLIPVAULT_PASSWORD 设置）")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "输出调试日志")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newCopyCommand(opts))
	cmd.AddCommand(newPinCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))
	cmd.AddCommand(newClearCommand(opts))
	cmd.AddCommand(newOpenCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newPasswordCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))

	return cmd
}

// open 创建应用、按需解锁并加载历史记录
func (o *RootOptions) open() (*app.Application, error) {
	a, err := o.openLocked()
	if err != nil {
		return nil, err
	}
	if a.NeedsUnlock() {
		if o.Password == "" {
			a.Close()
			return nil, errors.New("历史记录已加密，请通过 --password 或 CLIPVAULT_PASSWORD 提供密码")
		}
		if !a.Unlock(o.Password) {
			a.Close()
			return nil, errors.New("密码错误")
		}
	}
	if err := a.Load(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// openLocked 只创建应用，不解锁也不加载
func (o *RootOptions) openLocked() (*app.Application, error) {
	a, err := app.New(app.Options{
		ConfigPath:   o.ConfigPath,
		KeystorePath: o.KeystorePath,
		Pasteboard:   o.Pasteboard,
	})
	if err != nil {
		return nil, err
	}
	if o.Verbose {
		enableDebugLog()
	}
	return a, nil
}

// finish 关闭应用（最后一次保存），输出后台保存期间的警告，并返回保存错误
func finish(cmd *cobra.Command, a *app.Application) error {
	err := a.Close()
	for {
		select {
		case alert := <-a.Alerts():
			fmt.Fprintf(cmd.ErrOrStderr(), "警告: %v\n", alert)
		default:
			return err
		}
	}
}
