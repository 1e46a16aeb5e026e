package domain

import (
	"errors"
	"fmt"
)

// ErrCancelled はセッションの協調的キャンセルが観測されたことを示します。
// ユーザー視点では失敗ではないため、セッションを failed にはしません。
var ErrCancelled = errors.New("生成はキャンセルされました")

// PreconditionError は指定された再開起点の上流データが欠けていることを表します。
// 状態は一切変更されずに即座に返されます。
type PreconditionError struct {
	Requested Stage
	Missing   string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("工程 '%s' から再開できません: %s", e.Requested, e.Missing)
}

// GenerationError は外部の生成ステップの失敗を表します。
// 直近のチェックポイントは有効なまま保たれるため、再実行で続きから再開できます。
type GenerationError struct {
	Stage Stage
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("工程 '%s' の生成に失敗しました: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ParseError は生成ステップの応答が構造検証を通らなかったことを表します。
// 伝播の扱いは GenerationError と同じですが、不正応答の診断のために
// 対象工程と応答長を保持します。
type ParseError struct {
	Stage  Stage
	RawLen int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("工程 '%s' の応答の解析に失敗しました (応答長: %d): %v", e.Stage, e.RawLen, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
