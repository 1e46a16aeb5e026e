package domain

import (
	"fmt"
	"strings"
)

// Stage は生成パイプラインの工程を表す識別子です。
// 永続化される値のため、文字列表現は変更してはいけません。
type Stage string

const (
	// StageExtraction は章テキストから構造化情報を抽出する工程です。
	StageExtraction Stage = "extraction"
	// StagePlanning は抽出結果からページ構成案を作成する工程です。
	StagePlanning Stage = "planning"
	// StageStoryboard はページ単位でネーム（コマ割り）を設計する工程です。
	StageStoryboard Stage = "storyboard"
	// StagePromptBuilding はパネル単位の画像プロンプトを構築する工程です。
	StagePromptBuilding Stage = "prompt_building"
	// StagePagePromptBuilding はページ統合プロンプトを構築する工程です。
	StagePagePromptBuilding Stage = "page_prompt_building"
	// StageImageGeneration は任意実行の画像レンダリング工程です。
	StageImageGeneration Stage = "image_generation"
	// StageCompleted は全工程の完了を示す終端状態です。
	StageCompleted Stage = "completed"
)

// stageOrder は工程の固定された進行順序なのだ。途中参加も必ずこの順で進むのだ。
var stageOrder = []Stage{
	StageExtraction,
	StagePlanning,
	StageStoryboard,
	StagePromptBuilding,
	StagePagePromptBuilding,
	StageImageGeneration,
	StageCompleted,
}

// restartableStages は restart で指定可能な5つの工程です。
// 画像生成のみの再実行は結果データを壊さないため、別経路（start --with-images）で行います。
var restartableStages = map[Stage]struct{}{
	StageExtraction:         {},
	StagePlanning:           {},
	StageStoryboard:         {},
	StagePromptBuilding:     {},
	StagePagePromptBuilding: {},
}

// Index は進行順序上の位置を返します。未知の工程は -1 を返します。
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Before は s が other より上流の工程かどうかを返します。
func (s Stage) Before(other Stage) bool {
	return s.Index() < other.Index()
}

// Restartable は restart の起点として指定できる工程かどうかを返すのだ。
func (s Stage) Restartable() bool {
	_, ok := restartableStages[s]
	return ok
}

// ParseStage は文字列から Stage を解決します。大文字小文字は区別しません。
func ParseStage(raw string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(raw)))
	if s.Index() < 0 {
		return "", fmt.Errorf("不明な工程名です: '%s'", raw)
	}
	return s, nil
}

// Status はセッションの実行状態です。
type Status string

const (
	StatusRunning   Status = "running"
	StatusPartial   Status = "partial"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Progress は工程内の進捗（完了数 / 全体数）を表します。
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}
