package domain

import "time"

// CheckpointData はセッションのチェックポイント本体です。
// 緩い map ではなく工程ごとの明示的なフィールドで持ちます。
// 各工程の最終出力キーに加えて、工程途中の進捗サブキー
// （extraction_step_{1..4}, designed_pages, completed_*_pages）を持ち、
// 工程の最終出力が書かれた時点で途中キーは刈り取られます。
type CheckpointData struct {
	// --- 抽出工程（4つの固定ステップで途中保存） ---
	ExtractionStep1 *EntityEventInfo `json:"extraction_step_1,omitempty"`
	ExtractionStep2 *DialogueInfo    `json:"extraction_step_2,omitempty"`
	ExtractionStep3 *SceneList       `json:"extraction_step_3,omitempty"`
	ExtractionStep4 *ItemSummaryInfo `json:"extraction_step_4,omitempty"`
	ChapterInfo     *ChapterInfo     `json:"chapter_info,omitempty"`

	// --- ページ計画工程 ---
	PagePlan *PagePlan `json:"page_plan,omitempty"`

	// --- ネーム工程（ページ単位の途中保存） ---
	DesignedPages map[int]*StoryboardPage `json:"designed_pages,omitempty"`
	Storyboard    *Storyboard             `json:"storyboard,omitempty"`

	// --- プロンプト構築工程（ページ単位の途中保存） ---
	CompletedPanelPages map[int][]PanelPrompt `json:"completed_panel_pages,omitempty"`
	PanelPrompts        map[int][]PanelPrompt `json:"panel_prompts,omitempty"`

	// --- ページプロンプト構築工程 ---
	CompletedPromptPages map[int]*PagePrompt `json:"completed_prompt_pages,omitempty"`
	PagePrompts          map[int]*PagePrompt `json:"page_prompts,omitempty"`
}

// GenerationSession は1つの章に対する生成実行コンテキストです。
// メモリ上の実体はオーケストレーターが専有し、永続化はチェックポイント
// ストア経由でのみ行われます。
type GenerationSession struct {
	SessionKey      string          `json:"session_key"`
	Stage           Stage           `json:"stage"`
	Status          Status          `json:"status"`
	Progress        Progress        `json:"progress"`
	Data            *CheckpointData `json:"data"`
	SourceVersionID string          `json:"source_version_id,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewSession は初回実行用のセッションを生成します。
func NewSession(key, sourceVersionID string) *GenerationSession {
	return &GenerationSession{
		SessionKey:      key,
		Stage:           StageExtraction,
		Status:          StatusRunning,
		Data:            &CheckpointData{},
		SourceVersionID: sourceVersionID,
	}
}
