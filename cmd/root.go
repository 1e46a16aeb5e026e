package cmd

import (
	"fmt"
	"os"

	"github.com/shouni/go-manga-flow/internal/config"

	clibase "github.com/shouni/go-cli-base"
	"github.com/spf13/cobra"
)

// opts は CLI フラグから組み立てられる実行時オプションなのだ。
var opts config.GenerateOptions

// addAppFlags は、アプリケーション全般に適用されるグローバルフラグを定義するのだ。
func addAppFlags(rootCmd *cobra.Command) {
	// --- セッションと入力 ---
	rootCmd.PersistentFlags().StringVarP(&opts.SessionKey, "session", "s", "", "章を識別するセッションキーなのだ（例: chapter-12）。")
	rootCmd.PersistentFlags().StringVarP(&opts.ChapterFile, "chapter-file", "f", "", "章テキストのパス（ローカル or gs://...）なのだ。")
	rootCmd.PersistentFlags().StringVarP(&opts.Title, "title", "t", "", "成果物に付ける章タイトルなのだ。")
	rootCmd.PersistentFlags().StringVarP(&opts.CharacterConfig, "char-config", "c", "", "キャラクターの視覚情報（DNA）を定義したJSONパスなのだ。")
	rootCmd.PersistentFlags().StringVar(&opts.SourceVersionID, "source-version", "", "入力コンテンツの版の識別子なのだ（来歴の記録用）。")

	// --- 実行制御 ---
	rootCmd.PersistentFlags().BoolVar(&opts.Resume, "resume", true, "チェックポイントがあれば続きから再開するのだ。")
	rootCmd.PersistentFlags().BoolVar(&opts.WithImages, "with-images", false, "プロンプト完成後に画像レンダリングまで行うのだ。")
	rootCmd.PersistentFlags().IntVar(&opts.MaxConcurrency, "max-concurrency", config.DefaultMaxConcurrency, "ページ単位の並列実行の上限なのだ。")
	rootCmd.PersistentFlags().DurationVar(&opts.CancelTTL, "cancel-ttl", config.DefaultCancelTTL, "キャンセル確認キャッシュの有効期間なのだ。")
	rootCmd.PersistentFlags().DurationVar(&opts.HTTPTimeout, "http-timeout", config.DefaultHTTPTimeout, "外部APIリクエストのタイムアウトなのだ。")

	// --- AIモデル設定 ---
	rootCmd.PersistentFlags().StringVar(&opts.AIModel, "model", config.DefaultModel, "使用する Gemini モデル名なのだ。")
	rootCmd.PersistentFlags().StringVar(&opts.ImageModel, "image-model", config.DefaultImageModel, "画像生成用の Gemini モデル名なのだ。")
}

// preRunAppE は、コマンド実行前に環境変数などの必須チェックを行うのだ。
func preRunAppE(cmd *cobra.Command, args []string) error {
	// status / cancel はストアだけで動くため、APIキーは生成系コマンドでのみ要求するのだ
	switch cmd.Name() {
	case startCmd.Name(), restartCmd.Name():
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("エラー: 環境変数 GEMINI_API_KEY が設定されていません。Gemini APIの利用には必須なのだ")
		}
	}
	return nil
}

// loadConfig は環境変数とフラグを統合した設定を返します。
func loadConfig() *config.Config {
	cfg := config.LoadConfig()
	cfg.GeminiModel = opts.AIModel
	cfg.GeminiImageModel = opts.ImageModel
	cfg.Options = opts
	return cfg
}

// Execute は、アプリケーションのメインエントリポイントなのだ。
// main.go から呼び出されて、cobra のコマンドライン解析を開始するのだよ。
func Execute() {
	clibase.Execute(
		"manga-flow",
		addAppFlags,
		preRunAppE,
		startCmd,
		statusCmd,
		cancelCmd,
		restartCmd,
	)
}
