package services

import (
	"fmt"
	"math"

	"bizai-forecast-api/pkg/models"
)

// naiveConfidence はナイーブ予測に付与する固定の信頼度スコアです。
const naiveConfidence = 50.0

// recordFromFuture は予測対象日の外部条件をターゲットゼロのレコードに
// 変換します（特徴ベクトル化の入力として使用）。
func recordFromFuture(e models.FutureEntry) models.SalesRecord {
	return models.SalesRecord{
		Date:             e.Date,
		WeatherCondition: e.WeatherCondition,
		Temperature:      e.Temperature,
		FuelPrice:        e.FuelPrice,
		HasOffers:        e.HasOffers,
		OfferAmount:      e.OfferAmount,
		IsHoliday:        e.IsHoliday,
		HolidaysList:     e.HolidaysList,
		Festivals:        e.Festivals,
		LocalEvents:      e.LocalEvents,
	}
}

// PredictStepByStep は要求された各商品について future の日数分を日単位で
// 予測します。PatchTST の場合は自己回帰ループで、各日の予測値をその日の
// 共変量と合わせて履歴末尾に追加し、次の日の入力にします。長いホライズン
// での誤差の累積は許容されたトレードオフです。
func (p *SalesPredictor) PredictStepByStep(future []models.FutureEntry, itemIDs []string) (map[string][]models.ItemPrediction, error) {
	results := make(map[string][]models.ItemPrediction, len(itemIDs))

	if p.ModelType == ModelTypeNaive {
		for _, item := range itemIDs {
			stats := p.NaiveStats[item] // 履歴のない商品はゼロ値
			preds := make([]models.ItemPrediction, len(future))
			for i := range future {
				preds[i] = models.ItemPrediction{
					ItemID:          item,
					SalesAmount:     stats.AmountAvg,
					SalesQuantity:   int(stats.QtyAvg),
					ConfidenceScore: naiveConfidence,
				}
			}
			results[item] = preds
		}
		return results, nil
	}

	if p.net == nil {
		return nil, fmt.Errorf("学習済みモデルがロードされていません")
	}

	// 予測対象日の共変量を学習時と同じスキーマでベクトル化する。
	futureRecords := make([]models.SalesRecord, len(future))
	for i, e := range future {
		futureRecords[i] = recordFromFuture(e)
	}
	futureFeats := p.Features.Transform(futureRecords)

	// 商品ごとの実行コンテキストを永続化済みの末尾ウィンドウから初期化。
	// 履歴が足りない分は先頭をゼロ詰めする。
	L := p.Config.ContextWindow
	contexts := make(map[string][][]float64, len(itemIDs))
	for _, item := range itemIDs {
		saved := p.LastContext[item]
		ctx := make([][]float64, 0, L)
		for i := len(saved); i < L; i++ {
			ctx = append(ctx, make([]float64, p.NumFeatures))
		}
		for _, row := range saved {
			ctx = append(ctx, append([]float64(nil), row...))
		}
		if len(ctx) > L {
			ctx = ctx[len(ctx)-L:]
		}
		contexts[item] = ctx
		results[item] = make([]models.ItemPrediction, 0, len(future))
	}

	for day := range future {
		batch := make([][][]float64, len(itemIDs))
		for idx, item := range itemIDs {
			batch[idx] = contexts[item]
		}
		// 同日の全商品はまとめて1バッチで推論する。日をまたぐ依存のみ逐次。
		next := p.net.predictNext(batch)

		for idx, item := range itemIDs {
			amount := math.Max(0, math.Round(next[idx][0]*100)/100)
			qty := math.Max(0, math.Round(next[idx][1]))

			variance := amountVariance(contexts[item])
			confidence := math.Max(0, math.Min(100, 100-variance/100))
			confidence = math.Round(confidence*10) / 10

			results[item] = append(results[item], models.ItemPrediction{
				ItemID:          item,
				SalesAmount:     amount,
				SalesQuantity:   int(qty),
				ConfidenceScore: confidence,
			})

			// 予測値を履歴として取り込み、最古の行を捨てて次の日へ。
			newRow := append([]float64(nil), futureFeats[day]...)
			newRow[0] = amount
			newRow[1] = qty
			contexts[item] = append(contexts[item][1:], newRow)
		}
	}
	return results, nil
}

// amountVariance はコンテキスト中の売上金額列の分散（母分散）を返します。
// 信頼度スコアはこの分散の逆数的なヒューリスティックで、較正された
// 予測区間ではありません。
func amountVariance(ctx [][]float64) float64 {
	if len(ctx) == 0 {
		return 0
	}
	var mean float64
	for _, row := range ctx {
		mean += row[0]
	}
	mean /= float64(len(ctx))
	var sum float64
	for _, row := range ctx {
		d := row[0] - mean
		sum += d * d
	}
	return sum / float64(len(ctx))
}
