package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"clipvault/config"

	"github.com/spf13/cobra"
)

// configKeys config set 支持的键
var configKeys = []string{
	"max-items",
	"text-retention",
	"image-retention",
	"file-retention",
	"max-storage",
	"compression",
}

func newConfigCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "查看或修改历史记录策略",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "显示当前配置",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openLocked()
			if err != nil {
				return err
			}
			defer a.Close()

			printConfig(cmd.OutOrStdout(), a.Config())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key=value>...",
		Short: "修改配置，可用键: " + strings.Join(configKeys, ", "),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			store := a.Config().Store
			for _, arg := range args {
				if err := applySetting(&store, arg); err != nil {
					return err
				}
			}
			if err := a.SaveConfig(store); err != nil {
				return err
			}
			printConfig(cmd.OutOrStdout(), a.Config())
			return finish(cmd, a)
		},
	})

	return cmd
}

// applySetting 解析 key=value 并写入 store
func applySetting(store *config.StoreConfig, arg string) error {
	key, value, ok := strings.Cut(arg, "=")
	if !ok {
		return fmt.Errorf("格式应为 key=value: %s", arg)
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	if key == "compression" {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s 需要 true 或 false: %w", key, err)
		}
		store.Compression = b
		return nil
	}

	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("%s 需要整数: %w", key, err)
	}

	switch key {
	case "max-items":
		if n < 1 {
			return fmt.Errorf("max-items 至少为 1")
		}
		store.MaxItems = int(n)
	case "text-retention":
		store.TextRetentionDays, err = retentionDays(key, n)
	case "image-retention":
		store.ImageRetentionDays, err = retentionDays(key, n)
	case "file-retention":
		store.FileRetentionDays, err = retentionDays(key, n)
	case "max-storage":
		store.MaxStorageBytes = n
	default:
		return fmt.Errorf("未知的配置项: %s", key)
	}
	return err
}

func retentionDays(key string, n int64) (int, error) {
	if n < -1 {
		return 0, fmt.Errorf("%s 只能是 -1（永久）、0 或正数", key)
	}
	return int(n), nil
}

func printConfig(w io.Writer, cfg config.AppConfig) {
	s := cfg.Store
	fmt.Fprintf(w, "storage:          %s (%s)\n", cfg.Storage.Type, cfg.Storage.DataPath)
	fmt.Fprintf(w, "max-items:        %d\n", s.MaxItems)
	fmt.Fprintf(w, "text-retention:   %s\n", describeRetention(s.TextRetentionDays))
	fmt.Fprintf(w, "image-retention:  %s\n", describeRetention(s.ImageRetentionDays))
	fmt.Fprintf(w, "file-retention:   %s\n", describeRetention(s.FileRetentionDays))
	fmt.Fprintf(w, "max-storage:      %s\n", describeSize(s.MaxStorageBytes))
	fmt.Fprintf(w, "compression:      %t\n", s.Compression)
}

func describeRetention(days int) string {
	switch {
	case days < 0:
		return "永久"
	case days == 0:
		return "不保留"
	}
	return fmt.Sprintf("%d天", days)
}

func describeSize(n int64) string {
	if n <= 0 {
		return "不限制"
	}
	const mb = 1024 * 1024
	if n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	return fmt.Sprintf("%d字节", n)
}
