package notification

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidArgument は呼び出し側の入力が契約に違反していることを表す。
// 不明なレベル・カテゴリや空のタイトルを受け取った場合に返す。
var ErrInvalidArgument = errors.New("invalid argument")

// Level は通知の重要度を表す。トーストの表示種別を決定する。
type Level string

const (
	// LevelCritical は即時対応が必要な重大な通知を表す。
	LevelCritical Level = "critical"
	// LevelWarning は注意が必要な通知を表す。
	LevelWarning Level = "warning"
	// LevelInfo は情報提供のみの通知を表す。
	LevelInfo Level = "info"
	// LevelSuccess は処理の正常完了を表す。
	LevelSuccess Level = "success"
)

// Levels は有効なレベルを重要度の高い順に並べたもの。
var Levels = []Level{LevelCritical, LevelWarning, LevelInfo, LevelSuccess}

// Valid はレベルが定義済みの値かどうかを返す。
func (l Level) Valid() bool {
	switch l {
	case LevelCritical, LevelWarning, LevelInfo, LevelSuccess:
		return true
	}
	return false
}

// severity はレベルを比較可能な整数に変換する。大きいほど重要。
func (l Level) severity() int {
	switch l {
	case LevelCritical:
		return 3
	case LevelWarning:
		return 2
	case LevelInfo:
		return 1
	default:
		return 0
	}
}

// AtLeast はlがminと同じかそれより重要な場合にtrueを返す。
func (l Level) AtLeast(minLevel Level) bool {
	return l.severity() >= minLevel.severity()
}

// Label はダッシュボード表示用のラベルを返す。
func (l Level) Label() string {
	switch l {
	case LevelCritical:
		return "重大"
	case LevelWarning:
		return "警告"
	case LevelInfo:
		return "情報"
	case LevelSuccess:
		return "成功"
	}
	return string(l)
}

// Category は通知の分類を表す。フィルタリングに使用する。
type Category string

const (
	// CategoryThreat はセキュリティ上の脅威を表す。
	CategoryThreat Category = "threat"
	// CategoryCompliance は規制・準拠に関する通知を表す。
	CategoryCompliance Category = "compliance"
	// CategorySystem はシステム運用に関する通知を表す。
	CategorySystem Category = "system"
	// CategoryModel はAIモデルの挙動に関する通知を表す。
	CategoryModel Category = "model"
)

// Categories は有効なカテゴリの一覧。
var Categories = []Category{CategoryThreat, CategoryCompliance, CategorySystem, CategoryModel}

// Valid はカテゴリが定義済みの値かどうかを返す。
func (c Category) Valid() bool {
	switch c {
	case CategoryThreat, CategoryCompliance, CategorySystem, CategoryModel:
		return true
	}
	return false
}

// Label はダッシュボード表示用のラベルを返す。
func (c Category) Label() string {
	switch c {
	case CategoryThreat:
		return "脅威"
	case CategoryCompliance:
		return "準拠"
	case CategorySystem:
		return "システム"
	case CategoryModel:
		return "モデル"
	}
	return string(c)
}

// Record はストアが保持する1件の通知。
// CreatedAt は作成後に変更されない。表示用の相対時刻は読み出し時に計算する。
type Record struct {
	// ID は通知の一意識別子。作成時に一度だけ割り当てられる。
	ID string
	// Title は通知の見出し。
	Title string
	// Description は通知の詳細。
	Description string
	// Level は通知の重要度。
	Level Level
	// Category は通知の分類。
	Category Category
	// CreatedAt は通知の作成日時。
	CreatedAt time.Time
	// Unread は未読状態。作成時はtrueで、既読化後にtrueへ戻ることはない。
	Unread bool
}

// DisplayTime はnowを基準にした相対時刻の表示文字列を返す。
func (r Record) DisplayTime(now time.Time) string {
	return FormatRelativeTime(r.CreatedAt, now)
}

// Input は通知を追加する際の入力。ID・作成日時・未読状態はストアが決定する。
type Input struct {
	// Title は通知の見出し。空文字は不可。
	Title string `yaml:"title" json:"title"`
	// Description は通知の詳細。空文字は不可。
	Description string `yaml:"description" json:"description"`
	// Level は通知の重要度。
	Level Level `yaml:"level" json:"level"`
	// Category は通知の分類。
	Category Category `yaml:"category" json:"category"`
}

// Validate は入力が契約を満たしているか検証する。
// 違反時はErrInvalidArgumentをラップしたエラーを返す。
func (in Input) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: タイトルが空です", ErrInvalidArgument)
	}
	if strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("%w: 説明が空です", ErrInvalidArgument)
	}
	if !in.Level.Valid() {
		return fmt.Errorf("%w: 不明なレベル %q", ErrInvalidArgument, in.Level)
	}
	if !in.Category.Valid() {
		return fmt.Errorf("%w: 不明なカテゴリ %q", ErrInvalidArgument, in.Category)
	}
	return nil
}

// Filter は一覧取得時の絞り込み条件。ゼロ値はすべての通知に一致する。
type Filter struct {
	// Level が空でなければ、そのレベルの通知のみを返す。
	Level Level
	// Category が空でなければ、そのカテゴリの通知のみを返す。
	Category Category
	// UnreadOnly がtrueの場合、未読の通知のみを返す。
	UnreadOnly bool
}

// ParseFilter はクエリ文字列の値からFilterを組み立てる。
// "all" と空文字は絞り込みなしとして扱う。
func ParseFilter(level, category string, unreadOnly bool) (Filter, error) {
	f := Filter{UnreadOnly: unreadOnly}
	if level != "" && level != "all" {
		f.Level = Level(level)
		if !f.Level.Valid() {
			return Filter{}, fmt.Errorf("%w: 不明なレベル %q", ErrInvalidArgument, level)
		}
	}
	if category != "" && category != "all" {
		f.Category = Category(category)
		if !f.Category.Valid() {
			return Filter{}, fmt.Errorf("%w: 不明なカテゴリ %q", ErrInvalidArgument, category)
		}
	}
	return f, nil
}

// Match はレコードが条件に一致するかを返す。
func (f Filter) Match(r Record) bool {
	if f.Level != "" && r.Level != f.Level {
		return false
	}
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.UnreadOnly && !r.Unread {
		return false
	}
	return true
}
