package services

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrModelNotFound は指定テナントの保存済みモデルが存在しないことを示します。
var ErrModelNotFound = errors.New("model not found")

// PredictorState はメタデータアーティファクト（JSON）として保存される
// モデル状態です。重みテンソルはここに埋め込めないため、学習済みモデルの
// 場合のみ別アーティファクト（gob）に書き出します。
type PredictorState struct {
	BusinessID  string                    `json:"business_id"`
	ModelType   string                    `json:"model_type"`
	Config      ModelConfig               `json:"config"`
	NumFeatures int                       `json:"num_features"`
	ItemIDs     []string                  `json:"item_ids"`
	Encoders    map[string]*LabelEncoder  `json:"encoders"`
	NaiveStats  map[string]NaiveItemStats `json:"naive_stats"`
	LastContext map[string][][]float64    `json:"last_context"`
	SavedAt     string                    `json:"saved_at"`
}

// ModelStore はテナント別のモデルアーティファクト対を管理します。
// 同一テナントへの保存・読込はテナント別ミューテックスで直列化し、
// 書き込みは一時ファイル経由のリネームで原子的に行います。
type ModelStore struct {
	dir   string
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewModelStore は保存先ディレクトリを作成して ModelStore を返します。
func NewModelStore(dir string) (*ModelStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("モデル保存先の作成に失敗しました: %w", err)
	}
	return &ModelStore{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// lockFor はテナント別ミューテックスを返します（必要なら生成）。
func (ms *ModelStore) lockFor(businessID string) *sync.Mutex {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	l, ok := ms.locks[businessID]
	if !ok {
		l = &sync.Mutex{}
		ms.locks[businessID] = l
	}
	return l
}

// MetadataPath はメタデータアーティファクトのパスを返します。
func (ms *ModelStore) MetadataPath(businessID string) string {
	return filepath.Join(ms.dir, businessID+".json")
}

// WeightsPath は重みアーティファクトのパスを返します。
func (ms *ModelStore) WeightsPath(businessID string) string {
	return filepath.Join(ms.dir, businessID+".weights")
}

// writeAtomic は一時ファイルに書いてからリネームします。途中クラッシュで
// 壊れたアーティファクトが残らないようにするためです。
func (ms *ModelStore) writeAtomic(path string, write func(f *os.File) error) error {
	tmp := filepath.Join(ms.dir, ".tmp-"+uuid.NewString())
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Save はモデル状態を書き出し、同一テナントの既存アーティファクトを
// 置き換えます。ナイーブモデルの場合は古い重みファイルも削除します。
func (ms *ModelStore) Save(p *SalesPredictor) error {
	lock := ms.lockFor(p.BusinessID)
	lock.Lock()
	defer lock.Unlock()

	state := PredictorState{
		BusinessID:  p.BusinessID,
		ModelType:   p.ModelType,
		Config:      p.Config,
		NumFeatures: p.NumFeatures,
		ItemIDs:     p.ItemIDs,
		Encoders:    p.Features.Encoders,
		NaiveStats:  p.NaiveStats,
		LastContext: p.LastContext,
		SavedAt:     time.Now().Format(time.RFC3339),
	}

	err := ms.writeAtomic(ms.MetadataPath(p.BusinessID), func(f *os.File) error {
		enc := json.NewEncoder(f)
		return enc.Encode(&state)
	})
	if err != nil {
		return fmt.Errorf("メタデータの保存に失敗しました: %w", err)
	}

	if p.ModelType == ModelTypePatchTST && p.net != nil {
		weights := p.net.exportWeights()
		err := ms.writeAtomic(ms.WeightsPath(p.BusinessID), func(f *os.File) error {
			return gob.NewEncoder(f).Encode(weights)
		})
		if err != nil {
			return fmt.Errorf("重みの保存に失敗しました: %w", err)
		}
	} else {
		// 以前の学習で残った重みがあれば取り除く。
		if err := os.Remove(ms.WeightsPath(p.BusinessID)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("旧重みファイルの削除に失敗しました: %w", err)
		}
	}
	return nil
}

// Load は保存済みの状態から SalesPredictor を復元します。学習済みモデルは
// メタデータ中の設定からアーキテクチャを再構築した上で重みを適用します。
// 特徴量数が保存時の構成と食い違う場合はエラーです。
func (ms *ModelStore) Load(businessID string) (*SalesPredictor, error) {
	lock := ms.lockFor(businessID)
	lock.Lock()
	defer lock.Unlock()

	raw, err := os.ReadFile(ms.MetadataPath(businessID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("メタデータの読込に失敗しました: %w", err)
	}
	var state PredictorState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("メタデータの解析に失敗しました: %w", err)
	}

	p := &SalesPredictor{
		BusinessID:  state.BusinessID,
		ModelType:   state.ModelType,
		Config:      state.Config,
		NumFeatures: state.NumFeatures,
		ItemIDs:     state.ItemIDs,
		Features:    &FeatureProcessor{Encoders: state.Encoders},
		NaiveStats:  state.NaiveStats,
		LastContext: state.LastContext,
	}
	if p.Features.Encoders == nil {
		p.Features.Encoders = make(map[string]*LabelEncoder)
	}
	if p.NaiveStats == nil {
		p.NaiveStats = make(map[string]NaiveItemStats)
	}
	if p.LastContext == nil {
		p.LastContext = make(map[string][][]float64)
	}

	if state.ModelType == ModelTypePatchTST {
		f, err := os.Open(ms.WeightsPath(businessID))
		if err != nil {
			return nil, fmt.Errorf("重みファイルの読込に失敗しました: %w", err)
		}
		defer f.Close()
		var weights NetworkWeights
		if err := gob.NewDecoder(f).Decode(&weights); err != nil {
			return nil, fmt.Errorf("重みの復号に失敗しました: %w", err)
		}
		net := newPatchTSTModel(state.Config, state.NumFeatures, seedForBusiness(businessID))
		if err := net.importWeights(&weights); err != nil {
			return nil, fmt.Errorf("重みの適用に失敗しました: %w", err)
		}
		p.net = net
	}
	return p, nil
}

// Exists は指定テナントのメタデータが存在するかを返します。
func (ms *ModelStore) Exists(businessID string) bool {
	_, err := os.Stat(ms.MetadataPath(businessID))
	return err == nil
}

// Count は保存済みモデル数（メタデータファイル数）を返します。
func (ms *ModelStore) Count() (int, error) {
	entries, err := os.ReadDir(ms.dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			count++
		}
	}
	return count, nil
}
