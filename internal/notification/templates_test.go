package notification

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultTemplates(t *testing.T) {
	t.Parallel()

	templates := DefaultTemplates()
	if len(templates) != 8 {
		t.Fatalf("len = %d, want 8", len(templates))
	}
	seen := make(map[string]bool)
	for i, tpl := range templates {
		if err := tpl.Validate(); err != nil {
			t.Errorf("templates[%d] が不正: %v", i, err)
		}
		if seen[tpl.Title] {
			t.Errorf("タイトル %q が重複している", tpl.Title)
		}
		seen[tpl.Title] = true
	}
}

func TestDefaultSeed(t *testing.T) {
	t.Parallel()

	seed := DefaultSeed(testEpoch)
	want := []struct {
		id    string
		level Level
		ago   time.Duration
	}{
		{id: "init-1", level: LevelCritical, ago: 5 * time.Minute},
		{id: "init-2", level: LevelSuccess, ago: time.Hour},
		{id: "init-3", level: LevelInfo, ago: 3 * time.Hour},
	}
	if len(seed) != len(want) {
		t.Fatalf("len = %d, want %d", len(seed), len(want))
	}
	for i, w := range want {
		r := seed[i]
		if r.ID != w.id || r.Level != w.level || !r.Unread {
			t.Errorf("seed[%d] = %+v", i, r)
		}
		if !r.CreatedAt.Equal(testEpoch.Add(-w.ago)) {
			t.Errorf("seed[%d].CreatedAt = %v, want %v", i, r.CreatedAt, testEpoch.Add(-w.ago))
		}
	}
}

func TestParseTemplates(t *testing.T) {
	t.Parallel()

	t.Run("YAMLからテンプレートを読み込めること", func(t *testing.T) {
		t.Parallel()

		data := []byte(`
templates:
  - title: 推論遅延の増加
    description: 不正検知モデルのp99レイテンシが閾値を超えました。
    level: warning
    category: model
  - title: 監査ログ保全完了
    description: 月次の監査ログアーカイブが完了しました。
    level: success
    category: compliance
`)
		got, err := ParseTemplates(data)
		if err != nil {
			t.Fatalf("ParseTemplates()でエラーが発生: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if got[0].Title != "推論遅延の増加" || got[0].Level != LevelWarning || got[0].Category != CategoryModel {
			t.Errorf("got[0] = %+v", got[0])
		}
	})

	tests := []struct {
		name string
		data string
	}{
		{name: "空のリスト", data: "templates: []\n"},
		{name: "YAMLの構文エラー", data: "templates: [\n"},
		{name: "不明なレベル", data: "templates:\n  - {title: t, description: d, level: fatal, category: model}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := ParseTemplates([]byte(tt.data)); err == nil {
				t.Fatal("エラーが返らなかった")
			}
		})
	}

	t.Run("不正なテンプレートはErrInvalidArgumentをラップすること", func(t *testing.T) {
		t.Parallel()

		_, err := ParseTemplates([]byte("templates:\n  - {title: '', description: d, level: info, category: model}\n"))
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestLoadTemplates(t *testing.T) {
	t.Parallel()

	t.Run("ファイルから読み込めること", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "templates.yaml")
		content := "templates:\n  - {title: 定期スキャン, description: 週次スキャン開始, level: info, category: system}\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("ファイルの作成に失敗: %v", err)
		}

		got, err := LoadTemplates(path)
		if err != nil {
			t.Fatalf("LoadTemplates()でエラーが発生: %v", err)
		}
		if len(got) != 1 || got[0].Category != CategorySystem {
			t.Errorf("got = %+v", got)
		}
	})

	t.Run("存在しないファイルはエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := LoadTemplates(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Fatal("エラーが返らなかった")
		}
	})
}
