package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"clipvault/model"

	"github.com/sirupsen/logrus"
)

const previewLength = 100

// formatTime 相对时间显示，一周以上显示日期
func formatTime(t, now time.Time) string {
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%d秒前", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%d分钟前", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d小时前", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%d天前", int(diff.Hours()/24))
	}
	return t.Local().Format("2006-01-02 15:04")
}

// preview 单行预览文本
func preview(e model.Entry) string {
	switch e.Kind {
	case model.KindImage:
		return "[图片] " + e.Content
	case model.KindFile:
		return "[文件] " + e.FileRef
	}

	text := strings.Join(strings.Fields(e.Content), " ")
	runes := []rune(text)
	if len(runes) > previewLength {
		return string(runes[:previewLength]) + "..."
	}
	return text
}

func printEntries(w io.Writer, entries []model.Entry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "没有历史记录")
		return
	}
	for i, e := range entries {
		pin := "  "
		if e.IsPinned {
			pin = "📌"
		}
		fmt.Fprintf(w, "%3d. %s %s\n", i+1, pin, preview(e))
		fmt.Fprintf(w, "     %s  %s\n", formatTime(e.Timestamp, now), e.ID)
	}
}

type jsonEntry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	FileRef   string    `json:"fileRef,omitempty"`
	IsPinned  bool      `json:"isPinned"`
	CreatedAt time.Time `json:"createdAt"`
	Timestamp time.Time `json:"timestamp"`
}

func printEntriesJSON(w io.Writer, entries []model.Entry) error {
	out := make([]jsonEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, jsonEntry{
			ID:        e.ID,
			Kind:      e.Kind.String(),
			Content:   e.Content,
			FileRef:   e.FileRef,
			IsPinned:  e.IsPinned,
			CreatedAt: e.CreatedAt,
			Timestamp: e.Timestamp,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func enableDebugLog() {
	logrus.SetLevel(logrus.DebugLevel)
}
