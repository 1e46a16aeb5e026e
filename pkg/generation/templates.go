package generation

import (
	"fmt"
	"strings"
	"text/template"
)

// テキスト生成ステップのプロンプトテンプレート群なのだ。
// 出力は必ず JSON で返させ、decodeResponse で構造検証するのだ。
const (
	entityEventTemplate = `あなたは漫画の原作編集者です。以下の章テキストを読み、登場人物と出来事を抽出してください。

### 章テキスト ###
{{.Content}}

### 出力形式 (JSONのみ) ###
{"characters":[{"name":"","description":"","visual_cues":[""]}],
 "events":[{"index":0,"description":"","character_names":[""],"scene_name":""}]}

- events の index は 0 始まりの時系列順の連番にすること。
- visual_cues は画像生成プロンプトに使える英語の外見特徴にすること。`

	dialogueTemplate = `以下の章テキストから、漫画のフキダシに使える重要なセリフを抽出してください。
登場人物: {{.Names}}

### 章テキスト ###
{{.Content}}

### 出力形式 (JSONのみ) ###
{"lines":[{"speaker":"","text":"","event_index":0}]}

- event_index は対応する出来事のインデックス（0始まり）にすること。
- 地の文は含めず、セリフとして成立する発話だけを選ぶこと。`

	sceneTemplate = `以下の章テキストから、場面（ロケーション）の一覧を抽出してください。

### 章テキスト ###
{{.Content}}

### 出力形式 (JSONのみ) ###
{"scenes":[{"name":"","location":"","time_of_day":"","mood":""}]}`

	itemSummaryTemplate = `以下の章テキストから、物語上重要な小道具・象徴物と、章全体の要約を作成してください。

### 章テキスト ###
{{.Content}}

### 出力形式 (JSONのみ) ###
{"items":[{"name":"","description":""}],"summary":""}

- summary は3文以内の日本語にすること。`

	planTemplate = `あなたは漫画のネーム構成者です。以下の出来事リストを漫画のページに割り付けてください。

### 章の要約 ###
{{.Summary}}

### 出来事リスト ###
{{.Events}}

### 出力形式 (JSONのみ) ###
{"pages":[{"page_number":1,"event_indices":[0],"suggested_panel_count":4,"synopsis":""}]}

- すべての出来事インデックスを、重複なく必ずどこか1ページに割り当てること。
- page_number は 1 始まりの連番にすること。
- 1ページの出来事は多くても3つまでにすること。`

	storyboardTemplate = `あなたは漫画家です。以下のページ構成案から1ページ分のネーム（コマ割り）を設計してください。

### ページ {{.PageNumber}} の概要 ###
{{.Synopsis}}

### このページの出来事 ###
{{.Events}}

### 使えるセリフ ###
{{.Dialogues}}

### 指定 ###
- コマ数はおよそ {{.PanelCount}} コマ。
- visual_anchor は画像生成に使える英語の情景描写にすること。

### 出力形式 (JSONのみ) ###
{"page_number":{{.PageNumber}},
 "panels":[{"index":1,"visual_anchor":"","dialogue":"","speaker_id":"","camera_note":""}],
 "layout_hint":""}`
)

// parseTemplates は名前付きテンプレート群を一括で解析するヘルパーです。
func parseTemplates(sources map[string]string) (map[string]*template.Template, error) {
	parsed := make(map[string]*template.Template, len(sources))
	for name, content := range sources {
		if strings.TrimSpace(content) == "" {
			return nil, fmt.Errorf("プロンプトテンプレート '%s' が空です", name)
		}
		tmpl, err := template.New(name).Parse(content)
		if err != nil {
			return nil, fmt.Errorf("プロンプト '%s' の解析に失敗: %w", name, err)
		}
		parsed[name] = tmpl
	}
	return parsed, nil
}

// renderTemplate はテンプレートを実行して文字列を返します。
func renderTemplate(tmpl *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("プロンプトテンプレートの実行に失敗しました: %w", err)
	}
	return sb.String(), nil
}
