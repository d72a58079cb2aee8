package notification

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTemplates はシミュレーションで順番に発生させる定型イベント。
func DefaultTemplates() []Input {
	return []Input{
		{Title: "異常トラフィック検出", Description: "GPT-4 エンドポイントへの異常なリクエストパターンを検知しました。", Level: LevelWarning, Category: CategoryThreat},
		{Title: "モデルドリフト警告", Description: "レコメンド v3 の出力分布が基準値から逸脱しています。", Level: LevelWarning, Category: CategoryModel},
		{Title: "PII検出アラート", Description: "カスタマーサポートBotの出力から個人情報パターンを検出しました。", Level: LevelCritical, Category: CategoryThreat},
		{Title: "コンプライアンスチェック完了", Description: "ISO 42001 の定期チェックが正常に完了しました。", Level: LevelSuccess, Category: CategoryCompliance},
		{Title: "新規脆弱性レポート", Description: "Vision Model v2 に敵対的入力に対する新しい脆弱性が報告されました。", Level: LevelCritical, Category: CategoryThreat},
		{Title: "API レート制限警告", Description: "内部LLMゲートウェイのAPIレート制限に近づいています。", Level: LevelWarning, Category: CategorySystem},
		{Title: "バイアス監査結果", Description: "採用評価AIの週次バイアス監査レポートが利用可能です。", Level: LevelInfo, Category: CategoryCompliance},
		{Title: "セキュリティパッチ適用", Description: "入力検証フィルターの最新パッチが適用されました。", Level: LevelSuccess, Category: CategorySystem},
	}
}

// DefaultSeed はセッション開始時にストアへ投入する初期通知を返す。
// 作成日時はnowからの相対で決める。
func DefaultSeed(now time.Time) []Record {
	return []Record{
		{
			ID:          "init-1",
			Title:       "高リスク脆弱性を検出",
			Description: "モデル GPT-4o にプロンプトインジェクションの脆弱性が見つかりました。",
			Level:       LevelCritical,
			Category:    CategoryThreat,
			CreatedAt:   now.Add(-5 * time.Minute),
			Unread:      true,
		},
		{
			ID:          "init-2",
			Title:       "スキャン完了",
			Description: "定期セキュリティスキャンが正常に完了しました。",
			Level:       LevelSuccess,
			Category:    CategorySystem,
			CreatedAt:   now.Add(-1 * time.Hour),
			Unread:      true,
		},
		{
			ID:          "init-3",
			Title:       "コンプライアンス更新",
			Description: "EU AI Act の新しいガイドラインが公開されました。",
			Level:       LevelInfo,
			Category:    CategoryCompliance,
			CreatedAt:   now.Add(-3 * time.Hour),
			Unread:      true,
		},
	}
}

// templatePack はテンプレートYAMLファイルの構造。
type templatePack struct {
	Templates []Input `yaml:"templates"`
}

// LoadTemplates はYAMLファイルからシミュレーション用テンプレートを読み込む。
// すべてのテンプレートは通知の入力として妥当でなければならない。
func LoadTemplates(path string) ([]Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("テンプレートファイルの読み込みに失敗: %w", err)
	}
	return ParseTemplates(data)
}

// ParseTemplates はYAMLデータからテンプレートを解析する。
func ParseTemplates(data []byte) ([]Input, error) {
	var pack templatePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("テンプレートの解析に失敗: %w", err)
	}
	if len(pack.Templates) == 0 {
		return nil, errors.New("テンプレートが1件も定義されていません")
	}
	for i, tpl := range pack.Templates {
		if err := tpl.Validate(); err != nil {
			return nil, fmt.Errorf("テンプレート[%d]が不正です: %w", i, err)
		}
	}
	return pack.Templates, nil
}
