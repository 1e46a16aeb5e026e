package generation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	imagedom "github.com/shouni/gemini-image-kit/pkg/domain"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/shouni/go-manga-flow/pkg/asset"
	"github.com/shouni/go-manga-flow/pkg/domain"
)

const (
	// PanelAspectRatio は単体パネル（1コマ）の推奨アスペクト比です。
	PanelAspectRatio = "16:9"
	// PageAspectRatio は統合ページ全体の推奨アスペクト比です。
	PageAspectRatio = "3:4"

	// negativePanelPrompt 単体パネルでは「文字」や「フキダシ」を徹底排除します
	negativePanelPrompt = "speech bubble, dialogue balloon, text, alphabet, letters, words, signatures, watermark, username, low quality, distorted, bad anatomy, monochrome, black and white, greyscale"

	// negativePagePrompt 統合ページでは指定外のコマや白黒化を徹底排除します
	negativePagePrompt = "monochrome, black and white, greyscale, screentone, hatching, dot shades, ink sketch, line art only, realistic photos, 3d render, watermark, signature, deformed faces, bad anatomy, disfigured, poorly drawn hands, extra panels, unexpected panels, more than specified panels, split panels"

	// defaultImageRateInterval は画像生成APIの呼び出し間隔です。
	defaultImageRateInterval = 15 * time.Second
	defaultImageRateBurst    = 2
)

// ImageGenerator は画像生成バックエンドのインターフェースです。
type ImageGenerator interface {
	GenerateMangaPanel(ctx context.Context, req imagedom.ImageGenerationRequest) (*imagedom.ImageResponse, error)
	GenerateMangaPage(ctx context.Context, req imagedom.ImagePageRequest) (*imagedom.ImageResponse, error)
}

// OutputWriter は生成画像の保存先です。remoteio.OutputWriter が満たします。
type OutputWriter interface {
	Write(ctx context.Context, path string, r io.Reader, mimeType string) error
}

// Renderer は構築済みプロンプトから画像を生成し、成果物ディレクトリに保存します。
// 保存先の GCS/ローカルの差異は Writer に委ねます。
type Renderer struct {
	imgGen  ImageGenerator
	writer  OutputWriter
	baseDir string
	limiter *rate.Limiter
}

// NewRenderer は Renderer を初期化します。
func NewRenderer(imgGen ImageGenerator, writer OutputWriter, baseDir string) *Renderer {
	return &Renderer{
		imgGen:  imgGen,
		writer:  writer,
		baseDir: baseDir,
		limiter: rate.NewLimiter(rate.Every(defaultImageRateInterval), defaultImageRateBurst),
	}
}

// RenderPage は1ページ分のパネル画像とページ統合画像を生成して保存するのだ。
// パネルは errgroup で並列に生成し、呼び出しの流量はレートリミッターが均すのだ。
// 保存済みのパスを書き込んだ PageResult を返すのだ。
func (r *Renderer) RenderPage(ctx context.Context, sessionKey string, page domain.PageResult) (domain.PageResult, error) {
	// コマ番号順を保つため、結果は位置指定のスライスで受けるのだ
	paths := make([]string, len(page.PanelPrompts))
	eg, egCtx := errgroup.WithContext(ctx)

	for i, pp := range page.PanelPrompts {
		eg.Go(func() error {
			path, err := r.renderPanel(egCtx, sessionKey, pp)
			if err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return page, err
	}
	if len(paths) > 0 {
		page.PanelImagePaths = paths
	}

	if page.PagePrompt != nil {
		path, err := r.renderWholePage(ctx, sessionKey, page.PageNumber, page.PagePrompt)
		if err != nil {
			return page, err
		}
		page.PageImagePath = path
	}

	return page, nil
}

func (r *Renderer) renderPanel(ctx context.Context, sessionKey string, pp domain.PanelPrompt) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", &domain.GenerationError{Stage: domain.StageImageGeneration, Err: err}
	}

	seed := pp.Seed
	startTime := time.Now()
	resp, err := r.imgGen.GenerateMangaPanel(ctx, imagedom.ImageGenerationRequest{
		Prompt:         pp.UserPrompt,
		NegativePrompt: negativePanelPrompt,
		SystemPrompt:   pp.SystemPrompt,
		Seed:           &seed,
		AspectRatio:    PanelAspectRatio,
	})
	if err != nil {
		return "", &domain.GenerationError{
			Stage: domain.StageImageGeneration,
			Err:   fmt.Errorf("ページ %d コマ %d の画像生成に失敗しました: %w", pp.PageNumber, pp.PanelIndex, err),
		}
	}

	path, err := r.save(ctx, sessionKey, asset.PanelImageName(pp.PageNumber, pp.PanelIndex), resp)
	if err != nil {
		return "", err
	}

	slog.Info("パネル画像を生成しました",
		"page", pp.PageNumber,
		"panel", pp.PanelIndex,
		"duration", time.Since(startTime).Round(time.Millisecond),
	)
	return path, nil
}

func (r *Renderer) renderWholePage(ctx context.Context, sessionKey string, pageNumber int, pp *domain.PagePrompt) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", &domain.GenerationError{Stage: domain.StageImageGeneration, Err: err}
	}

	startTime := time.Now()
	resp, err := r.imgGen.GenerateMangaPage(ctx, imagedom.ImagePageRequest{
		Prompt:         pp.UserPrompt,
		NegativePrompt: negativePagePrompt,
		SystemPrompt:   pp.SystemPrompt,
		AspectRatio:    PageAspectRatio,
		ReferenceURLs:  pp.ReferenceURLs,
	})
	if err != nil {
		return "", &domain.GenerationError{
			Stage: domain.StageImageGeneration,
			Err:   fmt.Errorf("ページ %d の統合画像生成に失敗しました: %w", pageNumber, err),
		}
	}

	path, err := r.save(ctx, sessionKey, asset.PageImageName(pageNumber), resp)
	if err != nil {
		return "", err
	}

	slog.Info("ページ統合画像を生成しました",
		"page", pageNumber,
		"duration", time.Since(startTime).Round(time.Millisecond),
	)
	return path, nil
}

// save は画像データを成果物ディレクトリに書き出し、保存先パスを返します。
func (r *Renderer) save(ctx context.Context, sessionKey, fileName string, resp *imagedom.ImageResponse) (string, error) {
	path, err := asset.ResolveImagePath(r.baseDir, sessionKey, fileName)
	if err != nil {
		return "", fmt.Errorf("出力パスの解決に失敗しました (%s): %w", fileName, err)
	}
	if err := r.writer.Write(ctx, path, bytes.NewReader(resp.Data), resp.MimeType); err != nil {
		return "", fmt.Errorf("画像の保存に失敗しました (%s): %w", path, err)
	}
	return path, nil
}
