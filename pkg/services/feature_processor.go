package services

import (
	"sort"
	"strings"

	"bizai-forecast-api/pkg/models"
)

// RequiredColumns は特徴ベクトルの固定列順です。学習時と推論時で完全に一致
// させる必要があります。先頭の2列（売上金額・販売数量）が予測ターゲットです。
var RequiredColumns = []string{
	"sales_amount",
	"sales_quantity",
	"weather_condition",
	"temperature",
	"fuel_price",
	"has_offers",
	"offer_amount",
	"is_holiday",
	"holidays_list",
	"festivals",
	"local_events",
}

// CategoricalColumns はラベルエンコード対象の列です。
var CategoricalColumns = []string{
	"weather_condition",
	"holidays_list",
	"festivals",
	"local_events",
}

// unseenCategoryCode は学習時に存在しなかったカテゴリ値に割り当てる決定的な
// フォールバックコードです。推論はエラーにせず常にこのコードへ写像します。
const unseenCategoryCode = 0

// LabelEncoder は1カテゴリ列分の文字列→整数の全単射表です。
// 学習時に一度だけ構築され、その後クラスが増えることはありません。
type LabelEncoder struct {
	Classes []string `json:"classes"`

	index map[string]int
}

// NewLabelEncoder は値集合から重複を除きソートした対応表を構築します。
// ソートによりコード割り当てが入力順に依存しなくなります。
func NewLabelEncoder(values []string) *LabelEncoder {
	seen := make(map[string]bool)
	var classes []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			classes = append(classes, v)
		}
	}
	sort.Strings(classes)
	le := &LabelEncoder{Classes: classes}
	le.buildIndex()
	return le
}

func (le *LabelEncoder) buildIndex() {
	le.index = make(map[string]int, len(le.Classes))
	for i, c := range le.Classes {
		le.index[c] = i
	}
}

// Transform は既知クラスをそのコードに、未知の値を unseenCategoryCode に写像します。
func (le *LabelEncoder) Transform(v string) int {
	if le.index == nil {
		le.buildIndex()
	}
	if code, ok := le.index[v]; ok {
		return code
	}
	return unseenCategoryCode
}

// FeatureProcessor は販売実績レコードを固定長の数値ベクトルへ変換します。
// 欠損した数値・フラグは 0、欠損したカテゴリは "unknown"、リスト列は
// 正規化した結合文字列として扱います。
type FeatureProcessor struct {
	Encoders map[string]*LabelEncoder `json:"encoders"`
}

// NewFeatureProcessor は未学習の FeatureProcessor を生成します。
func NewFeatureProcessor() *FeatureProcessor {
	return &FeatureProcessor{Encoders: make(map[string]*LabelEncoder)}
}

// NumFeatures は特徴ベクトルの長さを返します。
func (fp *FeatureProcessor) NumFeatures() int {
	return len(RequiredColumns)
}

// canonicalizeList はリスト値の共変量（祝日・祭事・イベント名）を単一の
// 文字列へ正規化します。各要素をトリムし、与えられた順序のまま "|" で
// 結合します。順序が異なれば別カテゴリになる点は既知の仕様です。
func canonicalizeList(values []string) string {
	if len(values) == 0 {
		return ""
	}
	trimmed := make([]string, len(values))
	for i, v := range values {
		trimmed[i] = strings.TrimSpace(v)
	}
	return strings.Join(trimmed, "|")
}

// categoricalValue はレコードから指定カテゴリ列の生文字列を取り出します。
func categoricalValue(rec models.SalesRecord, col string) string {
	switch col {
	case "weather_condition":
		if rec.WeatherCondition == "" {
			return "unknown"
		}
		return rec.WeatherCondition
	case "holidays_list":
		return canonicalizeList(rec.HolidaysList)
	case "festivals":
		return canonicalizeList(rec.Festivals)
	case "local_events":
		return canonicalizeList(rec.LocalEvents)
	}
	return "unknown"
}

// Fit は全レコードを走査してカテゴリ列ごとの対応表を構築します。
func (fp *FeatureProcessor) Fit(records []models.SalesRecord) {
	for _, col := range CategoricalColumns {
		values := make([]string, 0, len(records))
		for _, rec := range records {
			values = append(values, categoricalValue(rec, col))
		}
		fp.Encoders[col] = NewLabelEncoder(values)
	}
}

// Transform はレコード列を固定列順の特徴ベクトル列へ変換します。
// 入力が空の場合は空を返します（学習対象なしとして呼び出し側が扱います）。
func (fp *FeatureProcessor) Transform(records []models.SalesRecord) [][]float64 {
	out := make([][]float64, 0, len(records))
	for _, rec := range records {
		out = append(out, fp.transformOne(rec))
	}
	return out
}

// FitTransform は Fit と Transform を続けて実行します（学習時用）。
func (fp *FeatureProcessor) FitTransform(records []models.SalesRecord) [][]float64 {
	fp.Fit(records)
	return fp.Transform(records)
}

func (fp *FeatureProcessor) transformOne(rec models.SalesRecord) []float64 {
	encode := func(col string) float64 {
		enc, ok := fp.Encoders[col]
		if !ok {
			return float64(unseenCategoryCode)
		}
		return float64(enc.Transform(categoricalValue(rec, col)))
	}
	return []float64{
		rec.SalesAmount,
		rec.SalesQuantity,
		encode("weather_condition"),
		rec.Temperature,
		rec.FuelPrice,
		float64(rec.HasOffers),
		rec.OfferAmount,
		float64(rec.IsHoliday),
		encode("holidays_list"),
		encode("festivals"),
		encode("local_events"),
	}
}
