package camera

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// RegistryConfig はレジストリが作成するソースの設定
type RegistryConfig struct {
	BufferSize int
	Loop       LoopConfig
}

// DefaultRegistryConfig はデフォルトのレジストリ設定を返す
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		BufferSize: DefaultBufferSize,
		Loop:       DefaultLoopConfig(),
	}
}

// Registry はカメラIDから Source への対応を管理する
//
// マップのロックは検索・挿入の間だけ保持し、Source の操作中には保持しない。
type Registry struct {
	opener Opener
	config RegistryConfig
	logger zerolog.Logger

	mu      sync.Mutex
	sources map[string]*Source
}

// NewRegistry は新しいRegistryを作成する
func NewRegistry(opener Opener, config RegistryConfig, logger zerolog.Logger) *Registry {
	return &Registry{
		opener:  opener,
		config:  config,
		logger:  logger,
		sources: make(map[string]*Source),
	}
}

// GetOrCreate は id の Source を返す。存在しない場合は url で作成する
// 既存の Source の URL は変更しない
func (r *Registry) GetOrCreate(id, url string) *Source {
	r.mu.Lock()
	defer r.mu.Unlock()

	if src, exists := r.sources[id]; exists {
		return src
	}

	src := NewSource(id, url, r.opener, r.config.BufferSize, r.config.Loop, r.logger)
	r.sources[id] = src
	return src
}

// Get は id の Source を返す
func (r *Registry) Get(id string) (*Source, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, exists := r.sources[id]
	return src, exists
}

// LookupFunc は登録済みカメラの接続URLを返す。未登録の場合はエラーを返す
type LookupFunc func(ctx context.Context, id string) (string, error)

// Acquire は lookup でカメラの登録を確認してから id の Source を返す
//
// 確認と作成はレジストリのロックを保持したまま行う。Remove も同じロックを取るため、
// 登録の削除と競合しても削除済みカメラの Source が残ることはない。
// 更新と競合した場合も、作成後に行われる UpdateURLIfPresent で新しいURLに揃う。
// ロック中に行うのは lookup と挿入だけで、Source の操作は行わない。
func (r *Registry) Acquire(ctx context.Context, id string, lookup LookupFunc) (*Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	url, err := lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	if src, exists := r.sources[id]; exists {
		return src, nil
	}

	src := NewSource(id, url, r.opener, r.config.BufferSize, r.config.Loop, r.logger)
	r.sources[id] = src
	return src, nil
}

// UpdateURL は id の Source の接続URLを更新する。存在しない場合は作成する
func (r *Registry) UpdateURL(id, url string) *Source {
	src := r.GetOrCreate(id, url)
	src.UpdateURL(url)
	return src
}

// UpdateURLIfPresent は id の Source が存在する場合だけ接続URLを更新する
// Source を作成しないため、カメラの削除と競合しても削除済みのソースは作られない
func (r *Registry) UpdateURLIfPresent(id, url string) bool {
	src, exists := r.Get(id)
	if !exists {
		return false
	}
	src.UpdateURL(url)
	return true
}

// Remove は id の Source を削除し、動作中のループに停止を要求する
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	src, exists := r.sources[id]
	if exists {
		delete(r.sources, id)
	}
	r.mu.Unlock()

	if !exists {
		return false
	}
	src.Close()
	return true
}

// Len は登録されている Source の数を返す
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}

// List は全 Source の状態をID順に返す
func (r *Registry) List() []SourceStatus {
	r.mu.Lock()
	sources := make([]*Source, 0, len(r.sources))
	for _, src := range r.sources {
		sources = append(sources, src)
	}
	r.mu.Unlock()

	statuses := make([]SourceStatus, 0, len(sources))
	for _, src := range sources {
		statuses = append(statuses, src.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ID < statuses[j].ID
	})
	return statuses
}

// Close は全ての Source を削除し、キャプチャループの終了を待つ
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	sources := r.sources
	r.sources = make(map[string]*Source)
	r.mu.Unlock()

	for _, src := range sources {
		src.Close()
	}

	var waitErrors []error
	for id, src := range sources {
		if err := src.Wait(ctx); err != nil {
			waitErrors = append(waitErrors, fmt.Errorf("カメラ %s の停止待ちに失敗: %w", id, err))
		}
	}

	if len(waitErrors) > 0 {
		return errors.Join(waitErrors...)
	}

	r.logger.Info().Int("sources", len(sources)).Msg("全てのカメラソースを停止しました")
	return nil
}
