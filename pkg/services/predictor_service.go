package services

import (
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"bizai-forecast-api/pkg/models"
)

// モデル種別。学習時に一度選択された後は不変です。
const (
	ModelTypeNaive    = "naive"
	ModelTypePatchTST = "patchtst"
)

// naiveTrailingDays はナイーブ予測が参照する直近観測数です。
const naiveTrailingDays = 7

// NaiveItemStats はナイーブ予測の商品別統計です。
type NaiveItemStats struct {
	AmountAvg float64 `json:"amount_avg"`
	QtyAvg    float64 `json:"qty_avg"`
}

// SalesPredictor は1テナント分の予測モデルです。履歴件数に応じて
// ナイーブ（直近平均）と PatchTST のどちらかの戦略を学習時に選択します。
type SalesPredictor struct {
	BusinessID  string
	ModelType   string
	Config      ModelConfig
	NumFeatures int
	ItemIDs     []string
	Features    *FeatureProcessor
	NaiveStats  map[string]NaiveItemStats
	LastContext map[string][][]float64

	net *patchTSTModel
}

// NewSalesPredictor は未学習の SalesPredictor を生成します。
func NewSalesPredictor(businessID string, cfg ModelConfig) *SalesPredictor {
	return &SalesPredictor{
		BusinessID:  businessID,
		ModelType:   ModelTypeNaive,
		Config:      cfg,
		Features:    NewFeatureProcessor(),
		NaiveStats:  make(map[string]NaiveItemStats),
		LastContext: make(map[string][][]float64),
	}
}

// sortRecordsByDate はレコードを日付昇順に安定ソートしたコピーを返します。
// 日付の解析に失敗した場合はエラーです。
func sortRecordsByDate(records []models.SalesRecord) ([]models.SalesRecord, error) {
	sorted := append([]models.SalesRecord(nil), records...)
	parsed := make([]time.Time, len(sorted))
	for i, rec := range sorted {
		t, err := time.Parse("2006-01-02", rec.Date)
		if err != nil {
			return nil, fmt.Errorf("日付の解析に失敗しました (%q): %w", rec.Date, err)
		}
		parsed[i] = t
	}
	idx := make([]int, len(sorted))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return parsed[idx[a]].Before(parsed[idx[b]]) })
	out := make([]models.SalesRecord, len(sorted))
	for i, j := range idx {
		out[i] = sorted[j]
	}
	return out, nil
}

// uniqueItemIDs は出現順を保った商品IDの一覧を返します。
func uniqueItemIDs(records []models.SalesRecord) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, rec := range records {
		if !seen[rec.ProductID] {
			seen[rec.ProductID] = true
			ids = append(ids, rec.ProductID)
		}
	}
	return ids
}

// Train は履歴全体から新しいモデル状態を構築します。総行数が
// MinSamplesForDL 未満、またはウィンドウ化の結果が空の場合はナイーブ戦略に
// 退行します。既存の状態は呼び出しのたびに丸ごと置き換えられます。
func (p *SalesPredictor) Train(records []models.SalesRecord) error {
	sorted, err := sortRecordsByDate(records)
	if err != nil {
		return err
	}
	p.ItemIDs = uniqueItemIDs(sorted)
	p.NumFeatures = p.Features.NumFeatures()

	if len(sorted) < p.Config.MinSamplesForDL {
		p.trainNaive(sorted)
	} else {
		if err := p.trainPatchTST(sorted); err != nil {
			return err
		}
	}

	// 推論時の初期コンテキストとして商品別の末尾ウィンドウを保存する。
	features := p.Features.FitTransform(sorted)
	p.LastContext = make(map[string][][]float64)
	perItem := make(map[string][][]float64)
	for i, rec := range sorted {
		perItem[rec.ProductID] = append(perItem[rec.ProductID], features[i])
	}
	for item, rows := range perItem {
		if len(rows) > p.Config.ContextWindow {
			rows = rows[len(rows)-p.Config.ContextWindow:]
		}
		ctx := make([][]float64, len(rows))
		for i, row := range rows {
			ctx[i] = append([]float64(nil), row...)
		}
		p.LastContext[item] = ctx
	}
	return nil
}

// trainNaive は商品別に直近7観測の平均を記録します。
func (p *SalesPredictor) trainNaive(sorted []models.SalesRecord) {
	p.ModelType = ModelTypeNaive
	p.net = nil
	p.NaiveStats = make(map[string]NaiveItemStats)
	perItem := make(map[string][]models.SalesRecord)
	for _, rec := range sorted {
		perItem[rec.ProductID] = append(perItem[rec.ProductID], rec)
	}
	for item, rows := range perItem {
		if len(rows) > naiveTrailingDays {
			rows = rows[len(rows)-naiveTrailingDays:]
		}
		var amountSum, qtySum float64
		for _, rec := range rows {
			amountSum += rec.SalesAmount
			qtySum += rec.SalesQuantity
		}
		n := float64(len(rows))
		p.NaiveStats[item] = NaiveItemStats{AmountAvg: amountSum / n, QtyAvg: qtySum / n}
	}
}

// trainPatchTST は全商品のウィンドウを束ねて PatchTST を学習します。
// ウィンドウが1件も作れない場合はナイーブへフォールバックします。
func (p *SalesPredictor) trainPatchTST(sorted []models.SalesRecord) error {
	features := p.Features.FitTransform(sorted)
	perItem := make(map[string][][]float64)
	for i, rec := range sorted {
		perItem[rec.ProductID] = append(perItem[rec.ProductID], features[i])
	}

	var inputs [][][]float64
	var labels [][][]float64
	for _, item := range p.ItemIDs {
		ins, labs := BuildWindows(perItem[item], p.Config.ContextWindow, p.Config.ForecastHorizon, p.Config.NumTargets)
		inputs = append(inputs, ins...)
		labels = append(labels, labs...)
	}
	if len(inputs) == 0 {
		p.trainNaive(sorted)
		return nil
	}

	p.ModelType = ModelTypePatchTST
	p.net = newPatchTSTModel(p.Config, p.NumFeatures, seedForBusiness(p.BusinessID))
	p.net.fit(inputs, labels)
	return nil
}

// seedForBusiness はテナントごとに再現可能な初期化シードを返します。
func seedForBusiness(businessID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(businessID))
	return int64(h.Sum64())
}
