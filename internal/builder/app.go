package builder

import (
	"github.com/shouni/go-manga-flow/internal/config"
	"github.com/shouni/go-manga-flow/pkg/checkpoint"
	"github.com/shouni/go-manga-flow/pkg/pipeline"

	"github.com/shouni/go-gemini-client/pkg/gemini"
	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/go-remote-io/pkg/remoteio"
)

// AppContext は、アプリケーション実行に必要な共通コンテキストを保持する
// これを各コマンドに渡すことで、依存関係の注入を簡素化します。
type AppContext struct {
	Config       *config.Config          // Configは、環境変数から読み込まれたグローバルな設定です（APIキー、保存先など）。
	Options      config.GenerateOptions  // Optionsは、コマンドラインから渡された実行時の設定です。
	Store        checkpoint.Store        // Storeは、チェックポイントと結果行の永続化先です。
	Orchestrator *pipeline.Orchestrator  // Orchestratorは、生成パイプライン全体の駆動役です。
	Reader       remoteio.InputReader    // Readerは、章テキストやキャラクター定義の読み込みに使用する入力元です。
	Writer       remoteio.OutputWriter   // Writerは、生成された画像を保存するための出力先です。
	aiClient     gemini.GenerativeModel  // aiClient はGeminiの通信に使う共通クライアント
	httpClient   httpkit.ClientInterface // httpClient は外部APIとの通信に使う共通クライアント

	closeStore func() // Postgres ストアの後始末（ファイルストアでは nil）
}

// Close は保持しているリソース（DB接続プール等）を解放します。
func (a *AppContext) Close() {
	if a.closeStore != nil {
		a.closeStore()
	}
}
