package results

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shouni/go-manga-flow/pkg/asset"
	"github.com/shouni/go-manga-flow/pkg/domain"
)

func setupArtifacts(t *testing.T) (string, *Cleaner) {
	t.Helper()
	base := t.TempDir()
	imagesDir := filepath.Join(base, "chapter-1", asset.ImagesDirName)
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		"panel_1_1.png", "panel_1_2.png", "panel_2_1.png",
		"manga_page_1.png", "manga_page_2.png",
	} {
		if err := os.WriteFile(filepath.Join(imagesDir, name), []byte("img"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return imagesDir, NewCleaner(base)
}

func remaining(t *testing.T, dir string) map[string]bool {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = true
	}
	return names
}

func TestCleaner_Clean(t *testing.T) {
	ctx := context.Background()

	t.Run("page_prompt_building はページ画像だけ消すのだ", func(t *testing.T) {
		imagesDir, cleaner := setupArtifacts(t)

		if err := cleaner.Clean(ctx, "chapter-1", domain.StagePagePromptBuilding); err != nil {
			t.Fatalf("削除に失敗したのだ: %v", err)
		}

		left := remaining(t, imagesDir)
		if left["manga_page_1.png"] || left["manga_page_2.png"] {
			t.Error("ページ画像が残っているのだ")
		}
		if !left["panel_1_1.png"] || !left["panel_2_1.png"] {
			t.Error("パネル画像まで消えてしまったのだ")
		}
	})

	t.Run("prompt_building は両方消すのだ", func(t *testing.T) {
		imagesDir, cleaner := setupArtifacts(t)

		if err := cleaner.Clean(ctx, "chapter-1", domain.StagePromptBuilding); err != nil {
			t.Fatal(err)
		}
		if left := remaining(t, imagesDir); len(left) != 0 {
			t.Errorf("画像が残っているのだ: %v", left)
		}
	})

	t.Run("extraction はディレクトリごと消すのだ", func(t *testing.T) {
		imagesDir, cleaner := setupArtifacts(t)

		if err := cleaner.Clean(ctx, "chapter-1", domain.StageExtraction); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(filepath.Dir(imagesDir)); !os.IsNotExist(err) {
			t.Error("セッションディレクトリが残っているのだ")
		}
	})

	t.Run("成果物がなくても成功するのだ", func(t *testing.T) {
		cleaner := NewCleaner(t.TempDir())
		if err := cleaner.Clean(ctx, "no-such", domain.StagePagePromptBuilding); err != nil {
			t.Errorf("冪等であるべきなのだ: %v", err)
		}
	})
}

func TestScopeFor(t *testing.T) {
	cases := map[domain.Stage]Scope{
		domain.StageExtraction:         ScopeAll,
		domain.StagePlanning:           ScopeAll,
		domain.StageStoryboard:         ScopeAll,
		domain.StagePromptBuilding:     ScopeAllImages,
		domain.StagePagePromptBuilding: ScopePageImages,
		domain.StageImageGeneration:    ScopeNone,
		domain.StageCompleted:          ScopeNone,
	}
	for stage, want := range cases {
		if got := ScopeFor(stage); got != want {
			t.Errorf("%s の削除範囲が違うのだ: 期待 %s, 実際 %s", stage, want, got)
		}
	}
}
