package domain

// ChapterCharacter は章から抽出された登場人物の情報です。
type ChapterCharacter struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	VisualCues  []string `json:"visual_cues"` // 画像プロンプトに注入する外見上の特徴
}

// ChapterEvent は章内の出来事を時系列順に表します。
// Index は章内で一意な 0 始まりの連番で、ページ計画の割り当てキーになります。
type ChapterEvent struct {
	Index          int      `json:"index"`
	Description    string   `json:"description"`
	CharacterNames []string `json:"character_names"`
	SceneName      string   `json:"scene_name"`
}

// DialogueLine は抽出された1つのセリフです。
type DialogueLine struct {
	Speaker    string `json:"speaker"`
	Text       string `json:"text"`
	EventIndex int    `json:"event_index"` // 対応する出来事のインデックス
}

// ChapterScene は場面（場所・時間帯・雰囲気）の情報です。
type ChapterScene struct {
	Name      string `json:"name"`
	Location  string `json:"location"`
	TimeOfDay string `json:"time_of_day"`
	Mood      string `json:"mood"`
}

// ChapterItem は章に登場する重要な小道具や象徴物です。
type ChapterItem struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// 抽出工程は4つの固定ステップに分かれており、各ステップの完了ごとに
// チェックポイントが保存されます。下記はステップ単位の部分出力です。

// EntityEventInfo はステップ1（人物・出来事パス）の出力です。
type EntityEventInfo struct {
	Characters []ChapterCharacter `json:"characters"`
	Events     []ChapterEvent     `json:"events"`
}

// DialogueInfo はステップ2（セリフパス）の出力です。
type DialogueInfo struct {
	Lines []DialogueLine `json:"lines"`
}

// SceneList はステップ3（場面パス）の出力です。
type SceneList struct {
	Scenes []ChapterScene `json:"scenes"`
}

// ItemSummaryInfo はステップ4（小道具・要約パス）の出力です。
type ItemSummaryInfo struct {
	Items   []ChapterItem `json:"items"`
	Summary string        `json:"summary"`
}

// ChapterInfo は4ステップの出力を統合した、抽出工程の最終成果物です。
type ChapterInfo struct {
	Title      string             `json:"title"`
	Characters []ChapterCharacter `json:"characters"`
	Events     []ChapterEvent     `json:"events"`
	Dialogues  []DialogueLine     `json:"dialogues"`
	Scenes     []ChapterScene     `json:"scenes"`
	Items      []ChapterItem      `json:"items"`
	Summary    string             `json:"summary"`
}

// MergeChapterInfo は4ステップの部分出力を1つの ChapterInfo に統合するのだ。
// 呼び出し時点で全ステップが揃っていることは呼び出し側が保証するのだ。
func MergeChapterInfo(title string, s1 *EntityEventInfo, s2 *DialogueInfo, s3 *SceneList, s4 *ItemSummaryInfo) *ChapterInfo {
	info := &ChapterInfo{Title: title}
	if s1 != nil {
		info.Characters = s1.Characters
		info.Events = s1.Events
	}
	if s2 != nil {
		info.Dialogues = s2.Lines
	}
	if s3 != nil {
		info.Scenes = s3.Scenes
	}
	if s4 != nil {
		info.Items = s4.Items
		info.Summary = s4.Summary
	}
	return info
}
