// Package export は通知一覧をCSVまたはJSONとして書き出す。
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/internal/notification"
)

// Format は書き出し形式。
type Format string

const (
	// FormatCSV はBOM付きUTF-8のCSV。
	FormatCSV Format = "csv"
	// FormatJSON は2スペースでインデントしたJSON配列。
	FormatJSON Format = "json"
)

// ParseFormat は形式名を解析する。空文字はCSVとして扱う。
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: 不明な形式 %q", notification.ErrInvalidArgument, s)
}

// ContentType はHTTPレスポンスのContent-Typeを返す。
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json; charset=utf-8"
	}
	return "text/csv; charset=utf-8"
}

// Filename はダウンロード用のファイル名を返す。
func (f Format) Filename(now time.Time) string {
	return fmt.Sprintf("notifications-%s.%s", now.Format("20060102-150405"), f)
}

// Write はformatに応じてrecordsを書き出す。
func Write(w io.Writer, format Format, records []notification.Record, now time.Time) error {
	if format == FormatJSON {
		return WriteJSON(w, records, now)
	}
	return WriteCSV(w, records, now)
}

// row は書き出す1行分の値。列の順序はcolumnsと一致させる。
type row struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Level         string `json:"level"`
	LevelLabel    string `json:"level_label"`
	Category      string `json:"category"`
	CategoryLabel string `json:"category_label"`
	CreatedAt     string `json:"created_at"`
	DisplayTime   string `json:"display_time"`
	Unread        bool   `json:"unread"`
}

var columns = []string{
	"id", "title", "description", "level", "level_label",
	"category", "category_label", "created_at", "display_time", "unread",
}

func toRow(r notification.Record, now time.Time) row {
	return row{
		ID:            r.ID,
		Title:         r.Title,
		Description:   r.Description,
		Level:         string(r.Level),
		LevelLabel:    r.Level.Label(),
		Category:      string(r.Category),
		CategoryLabel: r.Category.Label(),
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
		DisplayTime:   r.DisplayTime(now),
		Unread:        r.Unread,
	}
}

func (r row) values() []string {
	return []string{
		r.ID, r.Title, r.Description, r.Level, r.LevelLabel,
		r.Category, r.CategoryLabel, r.CreatedAt, r.DisplayTime, strconv.FormatBool(r.Unread),
	}
}

// WriteCSV はrecordsをBOM付きのCSVとして書き出す。
// 1行目はヘッダー。カンマ・ダブルクォート・改行を含む値はダブルクォートで囲む。
// recordsが空の場合は何も書き出さない。
func WriteCSV(w io.Writer, records []notification.Record, now time.Time) error {
	if len(records) == 0 {
		return nil
	}

	lines := make([]string, 0, len(records)+1)
	lines = append(lines, strings.Join(columns, ","))
	for _, r := range records {
		values := toRow(r, now).values()
		for i, v := range values {
			values[i] = quoteField(v)
		}
		lines = append(lines, strings.Join(values, ","))
	}

	if _, err := io.WriteString(w, "\uFEFF"+strings.Join(lines, "\n")); err != nil {
		return fmt.Errorf("CSVの書き出しに失敗: %w", err)
	}
	return nil
}

// quoteField はCSVの1フィールドを必要に応じてクォートする。
func quoteField(v string) string {
	if !strings.ContainsAny(v, ",\"\n") {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

// WriteJSON はrecordsを2スペースでインデントしたJSON配列として書き出す。
// recordsが空の場合は [] を書き出す。
func WriteJSON(w io.Writer, records []notification.Record, now time.Time) error {
	rows := make([]row, 0, len(records))
	for _, r := range records {
		rows = append(rows, toRow(r, now))
	}

	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("JSONのシリアライズに失敗: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("JSONの書き出しに失敗: %w", err)
	}
	return nil
}
