package cmd

import (
	"fmt"
	"log/slog"

	"github.com/shouni/go-manga-flow/internal/builder"
	"github.com/shouni/go-manga-flow/pkg/domain"

	"github.com/spf13/cobra"
)

// cancelCmd は、実行中のセッションに協調的な停止を要求するのだ。
// ストアの状態フラグを書き換えるだけなので、実行中プロセスは
// 次のチェックポイント保存の境界で停止を観測するのだよ。
var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "実行中のセッションにキャンセルを要求しますなのだ。",
	RunE:  cancelCommand,
}

func cancelCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if opts.SessionKey == "" {
		return fmt.Errorf("セッションキー（--session）を指定してほしいのだ")
	}

	cfg := loadConfig()
	store, closeStore, err := builder.InitializeStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ストアの初期化に失敗したのだ: %w", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	if err := store.SetStatus(ctx, opts.SessionKey, domain.StatusCancelled); err != nil {
		return fmt.Errorf("キャンセル要求の書き込みに失敗したのだ: %w", err)
	}

	slog.Info("キャンセルを要求したのだ。次の保存境界で停止するのだよ。", "session", opts.SessionKey)
	return nil
}
