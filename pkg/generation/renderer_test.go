package generation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	imagedom "github.com/shouni/gemini-image-kit/pkg/domain"
	"golang.org/x/time/rate"

	"github.com/shouni/go-manga-flow/pkg/asset"
	"github.com/shouni/go-manga-flow/pkg/domain"
)

type fakeImageGen struct {
	panelCalls atomic.Int32
	pageCalls  atomic.Int32
	failPanel  int // このコマ番号の生成だけ失敗させる（0なら全部成功）

	// rendezvous を設定すると、全コマの生成が同時に飛行中になるまで
	// 各呼び出しが待ち合わせる。逐次実行では永遠に解けない。
	rendezvous *sync.WaitGroup
}

func (f *fakeImageGen) GenerateMangaPanel(_ context.Context, _ imagedom.ImageGenerationRequest) (*imagedom.ImageResponse, error) {
	n := f.panelCalls.Add(1)
	if f.rendezvous != nil {
		f.rendezvous.Done()
		f.rendezvous.Wait()
	}
	if f.failPanel != 0 && int(n) == f.failPanel {
		return nil, errors.New("panel generation failed")
	}
	return &imagedom.ImageResponse{Data: []byte("panel"), MimeType: "image/png"}, nil
}

func (f *fakeImageGen) GenerateMangaPage(_ context.Context, _ imagedom.ImagePageRequest) (*imagedom.ImageResponse, error) {
	f.pageCalls.Add(1)
	return &imagedom.ImageResponse{Data: []byte("page"), MimeType: "image/png"}, nil
}

type fakeWriter struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeWriter) Write(_ context.Context, path string, _ io.Reader, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return nil
}

func testPageResult() domain.PageResult {
	return domain.PageResult{
		PageNumber: 2,
		PanelPrompts: []domain.PanelPrompt{
			{PageNumber: 2, PanelIndex: 1, UserPrompt: "p1"},
			{PageNumber: 2, PanelIndex: 2, UserPrompt: "p2"},
			{PageNumber: 2, PanelIndex: 3, UserPrompt: "p3"},
		},
		PagePrompt: &domain.PagePrompt{PageNumber: 2, UserPrompt: "page"},
	}
}

func TestRenderPage(t *testing.T) {
	ctx := context.Background()

	t.Run("全コマが並列に飛行しつつ番号順のパスで保存されるのだ", func(t *testing.T) {
		gen := &fakeImageGen{}
		var rendezvous sync.WaitGroup
		rendezvous.Add(3)
		gen.rendezvous = &rendezvous

		writer := &fakeWriter{}
		r := NewRenderer(gen, writer, t.TempDir())
		// テストではAPIの流量制御を外す
		r.limiter = rate.NewLimiter(rate.Inf, 0)

		got, err := r.RenderPage(ctx, "ch-1", testPageResult())
		if err != nil {
			t.Fatalf("RenderPage() error = %v", err)
		}

		if len(got.PanelImagePaths) != 3 {
			t.Fatalf("パネル画像パスは3本のはずなのだ: %d", len(got.PanelImagePaths))
		}
		// 完了順によらず、パスはコマ番号順で並ぶ
		for i, path := range got.PanelImagePaths {
			if !strings.Contains(path, asset.PanelImageName(2, i+1)) {
				t.Errorf("コマ %d のパスが違うのだ: %s", i+1, path)
			}
		}
		if got.PageImagePath == "" || !strings.Contains(got.PageImagePath, asset.PageImageName(2)) {
			t.Errorf("ページ統合画像のパスが違うのだ: %s", got.PageImagePath)
		}
		if gen.pageCalls.Load() != 1 {
			t.Errorf("ページ統合画像は1回だけ生成されるはずなのだ: %d", gen.pageCalls.Load())
		}
	})

	t.Run("コマの1つが失敗したらページ全体のエラーになるのだ", func(t *testing.T) {
		gen := &fakeImageGen{failPanel: 2}
		writer := &fakeWriter{}
		r := NewRenderer(gen, writer, t.TempDir())
		r.limiter = rate.NewLimiter(rate.Inf, 0)

		_, err := r.RenderPage(ctx, "ch-2", testPageResult())
		if err == nil {
			t.Fatal("エラーが返るはずなのだ")
		}
		var genErr *domain.GenerationError
		if !errors.As(err, &genErr) {
			t.Fatalf("GenerationError が返るはずなのだ: %v", err)
		}
	})
}
