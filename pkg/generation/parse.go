// Package generation は、パイプラインから呼び出される外部生成ステップの
// 実装群です。テキスト生成は Gemini、画像生成は gemini-image-kit に委ね、
// 応答の構造検証までを担当します。
package generation

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/shouni/go-manga-flow/pkg/domain"
)

var jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*\\S)\\s*```")

// decodeResponse は AI 応答からJSON部分を取り出して v にデコードするのだ。
// Markdown のコードブロック、裸の JSON オブジェクト、応答全文の順で
// フォールバックしながら解釈を試みるのだ。
func decodeResponse(stage domain.Stage, raw string, v any) error {
	trimmed := strings.TrimSpace(raw)
	var rawJSON string

	matches := jsonBlockRegex.FindStringSubmatch(trimmed)
	if len(matches) > 1 {
		rawJSON = matches[1]
	} else {
		// Fallback 1: 最外殻の JSON オブジェクトを探す
		first := strings.Index(trimmed, "{")
		last := strings.LastIndex(trimmed, "}")
		if first != -1 && last > first {
			rawJSON = trimmed[first : last+1]
		} else {
			// Fallback 2: 応答全体を JSON とみなす
			rawJSON = trimmed
		}
	}

	if err := json.Unmarshal([]byte(rawJSON), v); err != nil {
		return &domain.ParseError{Stage: stage, RawLen: len(raw), Err: err}
	}
	return nil
}
