package notification

import (
	"fmt"
	"time"
)

// FormatRelativeTime はcreatedAtからnowまでの経過時間を表示用の文字列に変換する。
// 1分未満（未来の日時を含む）は「たった今」となる。
func FormatRelativeTime(createdAt, now time.Time) string {
	elapsed := now.Sub(createdAt)
	if elapsed < time.Minute {
		return "たった今"
	}
	minutes := int(elapsed / time.Minute)
	if minutes < 60 {
		return fmt.Sprintf("%d分前", minutes)
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%d時間前", hours)
	}
	return fmt.Sprintf("%d日前", hours/24)
}
