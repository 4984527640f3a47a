// Package cache は短命のJSON値キャッシュを提供する。
// キャッシュはベストエフォートであり、失敗はログに記録して握りつぶす前提で
// 呼び出し側が利用する。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// defaultJanitorInterval は期限切れエントリの掃除間隔。
const defaultJanitorInterval = time.Minute

// item はキャッシュの1エントリを表す。
type item struct {
	data      []byte
	expiresAt time.Time
}

// TTLCache はTTL付きのインプロセスJSONキャッシュ。
// 値はJSONエンコードして保持するため、取得側は元の型に依存しない。
type TTLCache struct {
	mu    sync.RWMutex
	items map[string]item
	now   func() time.Time
}

// New はTTLCacheの新しいインスタンスを生成する。
func New() *TTLCache {
	return &TTLCache{
		items: make(map[string]item),
		now:   time.Now,
	}
}

// Start は期限切れエントリの定期掃除を開始する。
// コンテキストがキャンセルされるまで実行を継続する。
func (c *TTLCache) Start(ctx context.Context) {
	ticker := time.NewTicker(defaultJanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

// SetJSON は値をJSONエンコードしてTTL付きで格納する。
func (c *TTLCache) SetJSON(key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("キャッシュ値のエンコードに失敗しました: %w", err)
	}

	c.mu.Lock()
	c.items[key] = item{data: data, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// GetJSON はキーの値をdestにデコードする。
// 未存在または期限切れの場合は(false, nil)を返す。
func (c *TTLCache) GetJSON(key string, dest any) (bool, error) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || c.now().After(it.expiresAt) {
		return false, nil
	}

	if err := json.Unmarshal(it.data, dest); err != nil {
		return false, fmt.Errorf("キャッシュ値のデコードに失敗しました: %w", err)
	}
	return true, nil
}

// Delete はキーを削除する。未存在は無視する。
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// evictExpired は期限切れエントリを物理削除する。
func (c *TTLCache) evictExpired() {
	now := c.now()
	c.mu.Lock()
	for key, it := range c.items {
		if now.After(it.expiresAt) {
			delete(c.items, key)
		}
	}
	c.mu.Unlock()
}
