// Package config はアプリケーションの環境設定と実行時オプションを定義します。
package config

import (
	"time"

	"github.com/shouni/go-utils/envutil"
)

// デフォルト値の定義なのだ
const (
	DefaultModel       = "gemini-3-flash-preview"
	DefaultImageModel  = "gemini-3-pro-image-preview"
	DefaultHTTPTimeout = 30 * time.Second

	DefaultCheckpointDir  = "output/checkpoints" // チェックポイントの保存先なのだ
	DefaultArtifactDir    = "output/artifacts"   // 生成画像の保存先（ローカル or gs://...）なのだ
	DefaultMaxConcurrency = 5
	DefaultCancelTTL      = 2 * time.Second

	DefaultStyleSuffix = "Japanese anime style, official art, cel-shaded, clean line art, high-quality manga coloring, expressive eyes, vibrant colors, cinematic lighting, masterpiece, ultra-detailed, flat shading, clear character features, no 3D effect, high resolution"
)

// Config はアプリケーション全体の環境設定（APIキーや保存先設定）を保持する構造体なのだ。
type Config struct {
	GeminiAPIKey     string
	GeminiModel      string
	GeminiImageModel string
	StyleSuffix      string

	// DatabaseURL が設定されていれば Postgres ストア、空ならファイルストアを使う
	DatabaseURL   string
	CheckpointDir string
	ArtifactDir   string

	Options GenerateOptions
}

// LoadConfig は環境変数から設定を読み込み、構造体を返すのだ！
func LoadConfig() *Config {
	return &Config{
		GeminiAPIKey:     envutil.GetEnv("GEMINI_API_KEY", ""),
		GeminiModel:      envutil.GetEnv("GEMINI_MODEL", DefaultModel),
		GeminiImageModel: envutil.GetEnv("IMAGE_GEMINI_MODEL", DefaultImageModel),
		StyleSuffix:      envutil.GetEnv("IMAGE_PROMPT_SUFFIX", DefaultStyleSuffix),
		DatabaseURL:      envutil.GetEnv("DATABASE_URL", ""),
		CheckpointDir:    envutil.GetEnv("CHECKPOINT_DIR", DefaultCheckpointDir),
		ArtifactDir:      envutil.GetEnv("ARTIFACT_DIR", DefaultArtifactDir),
	}
}

// GenerateOptions は CLI フラグから渡される実行時のパラメータなのだ。
type GenerateOptions struct {
	// ソース入力関連
	SessionKey      string // --session
	ChapterFile     string // --chapter-file
	Title           string // --title
	CharacterConfig string // --char-config
	SourceVersionID string // --source-version

	// 実行制御
	Resume         bool          // --resume
	WithImages     bool          // --with-images
	MaxConcurrency int           // --max-concurrency
	CancelTTL      time.Duration // --cancel-ttl
	HTTPTimeout    time.Duration // --http-timeout

	// AI挙動設定
	AIModel    string // --model: テキスト生成用のGeminiモデル
	ImageModel string // --image-model: 画像生成用のGeminiモデル
}
