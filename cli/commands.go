package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"clipvault/history"
	"clipvault/model"

	"github.com/spf13/cobra"
)

// ErrAmbiguous ID 前缀匹配到多条记录
var ErrAmbiguous = errors.New("匹配到多条记录，请提供更长的ID")

func newListCommand(opts *RootOptions) *cobra.Command {
	var (
		search string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "列出历史记录",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := history.NewSearcher(a.Store()).Search(cmd.Context(), search)
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			if asJSON {
				if err := printEntriesJSON(cmd.OutOrStdout(), entries); err != nil {
					return err
				}
			} else {
				printEntries(cmd.OutOrStdout(), entries, time.Now())
			}
			return finish(cmd, a)
		},
	}

	cmd.Flags().StringVarP(&search, "search", "s", "", "按关键字过滤（不区分大小写）")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "最多显示的条数")
	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 格式输出")
	return cmd
}

func newCopyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "copy <id|序号>",
		Short: "把记录写回剪贴板并移到最前面",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := findEntry(a.Store().Items(), args[0])
			if err != nil {
				return err
			}
			if err := a.Copy(e.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已复制: %s\n", preview(e))
			return finish(cmd, a)
		},
	}
}

func newPinCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pin <id|序号>",
		Short: "切换置顶状态",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := findEntry(a.Store().Items(), args[0])
			if err != nil {
				return err
			}
			if err := a.Store().TogglePin(e.ID); err != nil {
				return err
			}
			state := "已置顶"
			if e.IsPinned {
				state = "已取消置顶"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", state, preview(e))
			return finish(cmd, a)
		},
	}
}

func newDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id|序号>",
		Aliases: []string{"rm"},
		Short:   "删除记录",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := findEntry(a.Store().Items(), args[0])
			if err != nil {
				return err
			}
			if err := a.Store().Delete(e.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已删除: %s\n", preview(e))
			return finish(cmd, a)
		},
	}
}

func newClearCommand(opts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "清空未置顶的记录",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			before := a.Store().Len()
			a.Store().Clear(all)
			fmt.Fprintf(cmd.OutOrStdout(), "已删除 %d 条记录\n", before-a.Store().Len())
			return finish(cmd, a)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "同时删除置顶记录")
	return cmd
}

func newOpenCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "open <id|序号>",
		Short: "用默认程序打开文件或图片记录，文本记录直接输出",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := findEntry(a.Store().Items(), args[0])
			if err != nil {
				return err
			}
			switch e.Kind {
			case model.KindFile:
				return a.Processor().Open(e.FileRef)
			case model.KindImage:
				data, err := a.Store().ImageData(e.ImageRef)
				if err != nil {
					return err
				}
				return a.Processor().OpenImage(data)
			default:
				fmt.Fprintln(cmd.OutOrStdout(), e.Content)
				return nil
			}
		},
	}
}

// findEntry 依次按完整ID、从 1 开始的序号、唯一的ID前缀查找记录
func findEntry(entries []model.Entry, arg string) (model.Entry, error) {
	for _, e := range entries {
		if e.ID == arg {
			return e, nil
		}
	}

	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(entries) {
		return entries[n-1], nil
	}

	var matched []model.Entry
	for _, e := range entries {
		if strings.HasPrefix(e.ID, arg) {
			matched = append(matched, e)
		}
	}
	switch len(matched) {
	case 0:
	case 1:
		return matched[0], nil
	default:
		return model.Entry{}, ErrAmbiguous
	}
	return model.Entry{}, fmt.Errorf("%w: %s", history.ErrNotFound, arg)
}
