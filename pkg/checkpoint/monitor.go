package checkpoint

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/shouni/go-manga-flow/pkg/domain"
)

// DefaultCancelCheckTTL はキャンセル状態キャッシュの既定の有効期間です。
// 進捗1ティックごとに呼ばれる値なので、TTLでストアへの問い合わせ頻度を抑えつつ、
// ユーザーのキャンセル操作にはこの窓の範囲内で応答します。
const DefaultCancelCheckTTL = 2 * time.Second

// Monitor はセッションのキャンセル状態を短命キャッシュ越しに監視します。
// プロセス全体の共有物ではなく、オーケストレーターのインスタンスが所有し、
// run の開始ごとに Reset で明示的に無効化されます。
type Monitor struct {
	store Store
	cache *gocache.Cache
	ttl   time.Duration
}

// NewMonitor は Monitor を初期化します。ttl が 0 以下なら既定値を使います。
func NewMonitor(store Store, ttl time.Duration) *Monitor {
	if ttl <= 0 {
		ttl = DefaultCancelCheckTTL
	}
	return &Monitor{
		store: store,
		cache: gocache.New(ttl, 10*ttl),
		ttl:   ttl,
	}
}

// Reset はセッションのキャッシュ項目を破棄するのだ。
// 前回の実行で外部からリセットされた cancelled フラグが、
// 古いキャッシュに隠されてしまうのを防ぐために run の冒頭で必ず呼ぶのだ。
func (m *Monitor) Reset(key string) {
	m.cache.Delete(key)
}

// Check はセッションがキャンセル済みかどうかを返します。
// キャッシュが生きていればストアには問い合わせません。
func (m *Monitor) Check(ctx context.Context, key string) (bool, error) {
	if v, ok := m.cache.Get(key); ok {
		return v.(bool), nil
	}

	status, err := m.store.GetStatus(ctx, key)
	if err != nil {
		return false, err
	}
	cancelled := status == domain.StatusCancelled
	m.cache.Set(key, cancelled, m.ttl)
	return cancelled, nil
}
