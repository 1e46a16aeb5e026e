package domain

import (
	"sort"
	"time"
)

// PanelPrompt はパネル1コマ分の画像生成プロンプトです。
type PanelPrompt struct {
	PageNumber   int    `json:"page_number"`
	PanelIndex   int    `json:"panel_index"`
	UserPrompt   string `json:"user_prompt"`
	SystemPrompt string `json:"system_prompt"`
	Seed         int64  `json:"seed"`
}

// PagePrompt はページ全体を1枚絵として統合生成するためのプロンプトです。
// パネルプロンプトとは独立した速度で完成するため、ページ番号で突き合わせます。
type PagePrompt struct {
	PageNumber    int      `json:"page_number"`
	UserPrompt    string   `json:"user_prompt"`
	SystemPrompt  string   `json:"system_prompt"`
	ReferenceURLs []string `json:"reference_urls"`
}

// PageResult は1ページ分の最終成果物（プロンプト一式と生成画像のパス）です。
type PageResult struct {
	PageNumber      int           `json:"page_number"`
	PanelPrompts    []PanelPrompt `json:"panel_prompts,omitempty"`
	PagePrompt      *PagePrompt   `json:"page_prompt,omitempty"`
	PanelImagePaths []string      `json:"panel_image_paths,omitempty"`
	PageImagePath   string        `json:"page_image_path,omitempty"`
}

// RenderStats は画像レンダリング工程の成功・失敗の件数です。
// 失敗はセッションを失敗には戻さないため、件数として結果行に残します。
type RenderStats struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// MangaResult はセッションの「現在の結果」です。
// 生成の進行に合わせて同じ行を上書きし続けるため、途中でも読み出せます。
type MangaResult struct {
	SessionKey  string       `json:"session_key"`
	Title       string       `json:"title"`
	Pages       []PageResult `json:"pages"`
	TotalPages  int          `json:"total_pages"`
	Complete    bool         `json:"complete"`
	RenderStats *RenderStats `json:"render_stats,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// MergePromptPages はパネルプロンプトとページプロンプトの2系統を
// ページ番号で突き合わせて PageResult の昇順リストに統合するのだ。
// 配列位置ではなくページ番号キーで合流させるのが肝なのだ。
func MergePromptPages(panels map[int][]PanelPrompt, pages map[int]*PagePrompt) []PageResult {
	numbers := make(map[int]struct{}, len(panels))
	for n := range panels {
		numbers[n] = struct{}{}
	}
	for n := range pages {
		numbers[n] = struct{}{}
	}

	ordered := make([]int, 0, len(numbers))
	for n := range numbers {
		ordered = append(ordered, n)
	}
	sort.Ints(ordered)

	results := make([]PageResult, 0, len(ordered))
	for _, n := range ordered {
		results = append(results, PageResult{
			PageNumber:   n,
			PanelPrompts: panels[n],
			PagePrompt:   pages[n],
		})
	}
	return results
}
