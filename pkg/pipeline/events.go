package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/shouni/go-manga-flow/pkg/domain"
)

// ProgressEvent は外部から観測可能な進捗の1単位です。
// 工程の遷移、抽出ステップの完了、ページ単位の完了のたびに、
// チェックポイント保存と同時またはその直前に発行されます。
type ProgressEvent struct {
	RunID      string       `json:"run_id"`
	SessionKey string       `json:"session_key"`
	Stage      domain.Stage `json:"stage"`
	Current    int          `json:"current"`
	Total      int          `json:"total"`
	Page       int          `json:"page,omitempty"`
	Message    string       `json:"message,omitempty"`
	At         time.Time    `json:"at"`
}

// ProgressSink は進捗イベントの受け口です。
// 輸送手段（チャネル、ログ、UI）には関知しません。
type ProgressSink interface {
	Emit(event ProgressEvent)
}

// SinkFunc は関数を ProgressSink として使うためのアダプターです。
type SinkFunc func(event ProgressEvent)

// Emit は f(event) を呼びます。
func (f SinkFunc) Emit(event ProgressEvent) { f(event) }

// NopSink は何もしない ProgressSink なのだ。sink が不要な呼び出し側のためなのだ。
var NopSink ProgressSink = SinkFunc(func(ProgressEvent) {})

// ChannelSink はイベントをチャネルへ流す ProgressSink です。
// 受信側が追いつかない場合はイベントを破棄します（進捗表示は最新値だけで足りるため）。
type ChannelSink struct {
	ch chan ProgressEvent
}

// NewChannelSink はバッファ付きの ChannelSink を生成します。
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan ProgressEvent, buffer)}
}

// Events は受信用チャネルを返します。
func (s *ChannelSink) Events() <-chan ProgressEvent { return s.ch }

// Emit はイベントを非ブロッキングで送信します。
func (s *ChannelSink) Emit(event ProgressEvent) {
	select {
	case s.ch <- event:
	default:
	}
}

// Close は送信側を閉じます。Run の終了後に呼んでください。
func (s *ChannelSink) Close() { close(s.ch) }

// newRunID は1回の run 実行を識別するIDを払い出します。
func newRunID() string {
	return uuid.NewString()
}
