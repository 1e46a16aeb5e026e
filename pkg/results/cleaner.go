package results

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shouni/go-manga-flow/pkg/asset"
	"github.com/shouni/go-manga-flow/pkg/domain"
)

// Scope は削除対象となる成果物の範囲です。
type Scope string

const (
	// ScopeNone は何も削除しません。
	ScopeNone Scope = "none"
	// ScopePageImages はページ統合画像のみを削除します（パネル画像は残す）。
	ScopePageImages Scope = "page_images"
	// ScopeAllImages はパネル画像とページ画像の両方を削除します。
	ScopeAllImages Scope = "all_images"
	// ScopeAll はセッションの成果物ディレクトリごと削除します。
	ScopeAll Scope = "all"
)

// stageScopes は再開起点の工程と削除範囲の固定対応表なのだ。
// 推論ではなく表で持つことで、論理データより成果物が長生きしないことを保証するのだ。
var stageScopes = map[domain.Stage]Scope{
	domain.StageExtraction:         ScopeAll,
	domain.StagePlanning:           ScopeAll,
	domain.StageStoryboard:         ScopeAll,
	domain.StagePromptBuilding:     ScopeAllImages,
	domain.StagePagePromptBuilding: ScopePageImages,
}

// ScopeFor は工程に対応する削除範囲を返します。表にない工程は ScopeNone です。
func ScopeFor(stage domain.Stage) Scope {
	if s, ok := stageScopes[stage]; ok {
		return s
	}
	return ScopeNone
}

// Cleaner は工程のやり直しに伴って、その工程より下流で生成済みの
// 成果物（レンダリング済み画像）を削除します。
// 対象はローカルの成果物ディレクトリです。
type Cleaner struct {
	baseDir string
}

// NewCleaner は成果物ルートディレクトリを指定して Cleaner を初期化します。
func NewCleaner(baseDir string) *Cleaner {
	return &Cleaner{baseDir: baseDir}
}

func (c *Cleaner) sessionDir(key string) string {
	return filepath.Join(c.baseDir, asset.SanitizeKey(key))
}

// Clean は stage からやり直す際に削除すべき成果物を取り除くのだ。
// 存在しないディレクトリは何もせず成功扱いなのだ（冪等）。
func (c *Cleaner) Clean(_ context.Context, key string, stage domain.Stage) error {
	scope := ScopeFor(stage)
	if scope == ScopeNone {
		return nil
	}

	dir := c.sessionDir(key)
	if scope == ScopeAll {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("成果物ディレクトリの削除に失敗しました (%s): %w", dir, err)
		}
		slog.Info("成果物を全削除しました", "session", key, "stage", string(stage))
		return nil
	}

	imagesDir := filepath.Join(dir, asset.ImagesDirName)
	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("成果物ディレクトリの走査に失敗しました (%s): %w", imagesDir, err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := asset.PageFileRegex.MatchString(name)
		if scope == ScopeAllImages {
			match = match || asset.PanelFileRegex.MatchString(name)
		}
		if !match {
			continue
		}
		if err := os.Remove(filepath.Join(imagesDir, name)); err != nil {
			return fmt.Errorf("成果物 '%s' の削除に失敗しました: %w", name, err)
		}
		removed++
	}

	slog.Info("下流の成果物を削除しました",
		"session", key,
		"stage", string(stage),
		"scope", string(scope),
		"removed", removed,
	)
	return nil
}
