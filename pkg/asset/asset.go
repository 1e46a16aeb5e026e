// Package asset は生成成果物（パネル画像・ページ画像）の命名規約と
// 出力パスの解決を一か所に集約します。
package asset

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shouni/go-utils/urlpath"
)

const (
	// ImagesDirName はセッション配下で画像を格納するディレクトリ名です。
	ImagesDirName = "images"
)

var (
	// PanelFileRegex はパネル画像 (panel_3_2.png = 3ページ目の2コマ目) に一致します
	PanelFileRegex = regexp.MustCompile(`^panel_\d+_\d+\.png$`)
	// PageFileRegex はページ統合画像 (manga_page_3.png) に一致します
	PageFileRegex = regexp.MustCompile(`^manga_page_\d+\.png$`)

	// keySanitizer はセッションキーをパス要素として安全な形に置換します。
	keySanitizer = strings.NewReplacer(
		"/", "_",
		`\`, "_",
		":", "_",
		"*", "_",
		"?", "_",
		`"`, "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
)

// PanelImageName はページ番号とコマ番号からパネル画像のファイル名を返します。
func PanelImageName(page, panelIndex int) string {
	return fmt.Sprintf("panel_%d_%d.png", page, panelIndex)
}

// PageImageName はページ番号からページ統合画像のファイル名を返します。
func PageImageName(page int) string {
	return fmt.Sprintf("manga_page_%d.png", page)
}

// SanitizeKey はセッションキーをディレクトリ名として使える形にします。
func SanitizeKey(key string) string {
	return keySanitizer.Replace(key)
}

// ResolveImagePath はセッションの画像ディレクトリ配下の出力パスを解決します。
// GCS とローカルの判別は urlpath に委ねます。
func ResolveImagePath(baseDir, sessionKey, fileName string) (string, error) {
	relative := SanitizeKey(sessionKey) + "/" + ImagesDirName + "/" + fileName
	return urlpath.ResolveOutputPath(baseDir, relative)
}
