package services

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"bizai-forecast-api/pkg/models"
)

// ForecastService は学習・予測のユースケースをまとめたサービス層です。
// ハンドラーからはこの型のメソッドだけを呼びます。
type ForecastService struct {
	store *ModelStore
	cfg   ModelConfig
}

// NewForecastService は ForecastService を生成します。
func NewForecastService(store *ModelStore, cfg ModelConfig) *ForecastService {
	return &ForecastService{store: store, cfg: cfg}
}

// Store は内部のモデルストアを返します（ダウンロード・監視用）。
func (s *ForecastService) Store() *ModelStore {
	return s.store
}

// Retrain は履歴データからテナントのモデルを作り直します。
// データが十分なら時系列 80/20 分割で検証指標を計測し、その後に必ず
// 全量で最終学習して保存します。検証が成立しない場合は指標ゼロ・
// 分割比 "100/0 (Insufficient Data)" で全量学習のみ行います。
func (s *ForecastService) Retrain(businessID string, data []models.SalesRecord) (*models.RetrainResponse, error) {
	sorted, err := sortRecordsByDate(data)
	if err != nil {
		return nil, err
	}

	nTotal := len(sorted)
	splitIdx := int(float64(nTotal) * 0.8)

	var metrics models.Metrics
	var info models.TrainingInfo

	if splitIdx > s.cfg.ContextWindow && nTotal-splitIdx > 1 {
		trainPart := sorted[:splitIdx]
		testPart := sorted[splitIdx:]

		metrics, err = s.validate(businessID, trainPart, testPart)
		if err != nil {
			return nil, err
		}
		info = models.TrainingInfo{
			TrainStart: trainPart[0].Date,
			TrainEnd:   trainPart[len(trainPart)-1].Date,
			TestStart:  testPart[0].Date,
			TestEnd:    testPart[len(testPart)-1].Date,
			SplitRatio: "80/20",
		}
	} else {
		log.Printf("検証分割を省略します: business_id=%s rows=%d", businessID, nTotal)
		info = models.TrainingInfo{
			TrainStart: firstDate(sorted),
			TrainEnd:   lastDate(sorted),
			TestStart:  "N/A",
			TestEnd:    "N/A",
			SplitRatio: "100/0 (Insufficient Data)",
		}
	}

	// 最終モデルは常に全履歴で学習して保存する。
	final := NewSalesPredictor(businessID, s.cfg)
	if err := final.Train(sorted); err != nil {
		return nil, err
	}
	if err := s.store.Save(final); err != nil {
		return nil, err
	}

	metrics.ModelVersion = "PatchTST-v2." + time.Now().Format("200601021504")
	info.RunID = uuid.NewString()

	log.Printf("再学習完了: business_id=%s model_type=%s rows=%d split=%s",
		businessID, final.ModelType, nTotal, info.SplitRatio)

	return &models.RetrainResponse{
		Status:       "success",
		ModelType:    final.ModelType,
		Metrics:      metrics,
		TrainingInfo: info,
	}, nil
}

// validate は学習区間のみで仮モデルを学習し、検証区間を自己回帰で予測して
// 売上金額の精度指標を計測します。検証区間に実測が1件もなければ指標ゼロです。
func (s *ForecastService) validate(businessID string, trainPart, testPart []models.SalesRecord) (models.Metrics, error) {
	val := NewSalesPredictor(businessID+"_val", s.cfg)
	if err := val.Train(trainPart); err != nil {
		return models.Metrics{}, err
	}

	testDates := uniqueDates(testPart)
	testItems := uniqueItemIDs(testPart)

	future := make([]models.FutureEntry, len(testDates))
	for i, d := range testDates {
		future[i] = models.FutureEntry{Date: d}
	}
	forecast, err := val.PredictStepByStep(future, testItems)
	if err != nil {
		return models.Metrics{}, err
	}

	// 実測がある (日付, 商品) の組だけを突き合わせる。
	actuals := make(map[string]float64, len(testPart))
	for _, rec := range testPart {
		key := rec.Date + "\x00" + rec.ProductID
		if _, ok := actuals[key]; !ok {
			actuals[key] = rec.SalesAmount
		}
	}
	var yTrue, yPred []float64
	for i, d := range testDates {
		for _, item := range testItems {
			actual, ok := actuals[d+"\x00"+item]
			if !ok {
				continue
			}
			yTrue = append(yTrue, actual)
			yPred = append(yPred, forecast[item][i].SalesAmount)
		}
	}
	return CalculateMetrics(yTrue, yPred), nil
}

// Predict は保存済みモデルで begin_date〜end_date（両端含む）の各日を
// 中立な外部条件で予測します。
func (s *ForecastService) Predict(req *models.PredictRequest) (*models.ForecastResponse, error) {
	predictor, err := s.store.Load(req.BusinessID)
	if err != nil {
		return nil, err
	}

	begin, err := time.Parse("2006-01-02", req.BeginDate)
	if err != nil {
		return nil, fmt.Errorf("begin_date の解析に失敗しました: %w", err)
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("end_date の解析に失敗しました: %w", err)
	}
	days := int(end.Sub(begin).Hours()/24) + 1
	if days < 1 {
		return nil, fmt.Errorf("end_date が begin_date より前です")
	}

	future := make([]models.FutureEntry, days)
	for i := 0; i < days; i++ {
		future[i] = models.FutureEntry{Date: begin.AddDate(0, 0, i).Format("2006-01-02")}
	}

	forecast, err := predictor.PredictStepByStep(future, req.ItemIDs)
	if err != nil {
		return nil, err
	}
	return formatForecast(predictor.BusinessID, future, req.ItemIDs, forecast), nil
}

// PredictCustom は呼び出し元が指定した将来条件（天気・販促・祝日など）で
// 予測します。日数は future_data の長さで決まります。
func (s *ForecastService) PredictCustom(req *models.PredictCustomRequest) (*models.ForecastResponse, error) {
	predictor, err := s.store.Load(req.BusinessID)
	if err != nil {
		return nil, err
	}
	forecast, err := predictor.PredictStepByStep(req.FutureData, req.ItemIDs)
	if err != nil {
		return nil, err
	}
	return formatForecast(predictor.BusinessID, req.FutureData, req.ItemIDs, forecast), nil
}

// formatForecast は商品別の予測列を日付順・商品指定順のレスポンスに整形します。
func formatForecast(businessID string, future []models.FutureEntry, itemIDs []string, forecast map[string][]models.ItemPrediction) *models.ForecastResponse {
	daily := make([]models.DailyForecast, len(future))
	for i, entry := range future {
		preds := make([]models.ItemPrediction, 0, len(itemIDs))
		for _, item := range itemIDs {
			preds = append(preds, forecast[item][i])
		}
		daily[i] = models.DailyForecast{Date: entry.Date, Predictions: preds}
	}
	return &models.ForecastResponse{BusinessID: businessID, Forecast: daily}
}

// uniqueDates は日付昇順に並んだレコード列から日付の一意リストを返します。
func uniqueDates(records []models.SalesRecord) []string {
	seen := make(map[string]bool)
	var dates []string
	for _, rec := range records {
		if !seen[rec.Date] {
			seen[rec.Date] = true
			dates = append(dates, rec.Date)
		}
	}
	return dates
}

func firstDate(records []models.SalesRecord) string {
	if len(records) == 0 {
		return "N/A"
	}
	return records[0].Date
}

func lastDate(records []models.SalesRecord) string {
	if len(records) == 0 {
		return "N/A"
	}
	return records[len(records)-1].Date
}
