package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/shouni/go-manga-flow/cmd"
)

// main はアプリケーションの唯一のエントリーポイントなのだ！
// ログの初期化だけここで済ませて、あとは cmd パッケージに委ねるのだよ。
func main() {
	slog.SetDefault(newLogger())
	cmd.Execute()
}

// newLogger は標準エラー出力向けのロガーを組み立てます。
// 端末に繋がっていれば色付き、パイプならプレーンテキストです。
func newLogger() *slog.Logger {
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.RFC3339,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
}
