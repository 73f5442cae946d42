package models

// SalesRecord は1営業日・1商品の販売実績レコードを表します。
// 学習データの取り込みに使用されます。欠損フィールドはゼロ値のまま
// FeatureProcessor 側でデフォルト値に置き換えられます。
type SalesRecord struct {
	Date             string   `json:"date"`
	ProductID        string   `json:"product_id"`
	SalesAmount      float64  `json:"sales_amount"`
	SalesQuantity    float64  `json:"sales_quantity"`
	WeatherCondition string   `json:"weather_condition"`
	Temperature      float64  `json:"temperature"`
	FuelPrice        float64  `json:"fuel_price"`
	HasOffers        int      `json:"has_offers"`
	OfferAmount      float64  `json:"offer_amount"`
	IsHoliday        int      `json:"is_holiday"`
	HolidaysList     []string `json:"holidays_list"`
	Festivals        []string `json:"festivals"`
	LocalEvents      []string `json:"local_events"`
}

// FutureEntry は予測対象日の既知の外部条件（天気・販促・祝日など）です。
// /predict では中立なデフォルト値、/predict_custom では呼び出し元の指定値が入ります。
type FutureEntry struct {
	Date             string   `json:"date"`
	WeatherCondition string   `json:"weather_condition"`
	Temperature      float64  `json:"temperature"`
	FuelPrice        float64  `json:"fuel_price"`
	HasOffers        int      `json:"has_offers"`
	OfferAmount      float64  `json:"offer_amount"`
	IsHoliday        int      `json:"is_holiday"`
	HolidaysList     []string `json:"holidays_list"`
	Festivals        []string `json:"festivals"`
	LocalEvents      []string `json:"local_events"`
}

// RetrainRequest は /retrain のリクエストボディです。
type RetrainRequest struct {
	BusinessID string        `json:"business_id"`
	Data       []SalesRecord `json:"data"`
}

// PredictRequest は /predict のリクエストボディです。
type PredictRequest struct {
	BusinessID string   `json:"business_id"`
	BeginDate  string   `json:"begin_date"`
	EndDate    string   `json:"end_date"`
	ItemIDs    []string `json:"item_ids"`
}

// PredictCustomRequest は /predict_custom のリクエストボディです。
type PredictCustomRequest struct {
	BusinessID string        `json:"business_id"`
	ItemIDs    []string      `json:"item_ids"`
	FutureData []FutureEntry `json:"future_data"`
}

// Metrics は時系列ホールドアウト区間で計測した精度指標です。
// accuracy は決定係数 R² と同値です。
type Metrics struct {
	MAE               float64 `json:"mae"`
	MSE               float64 `json:"mse"`
	RMSE              float64 `json:"rmse"`
	MAPE              float64 `json:"mape"`
	R2Score           float64 `json:"r2_score"`
	ExplainedVariance float64 `json:"explained_variance"`
	Accuracy          float64 `json:"accuracy"`
	ModelVersion      string  `json:"model_version,omitempty"`
}

// TrainingInfo は学習・検証に使用した期間の情報です。
type TrainingInfo struct {
	TrainStart string `json:"train_start"`
	TrainEnd   string `json:"train_end"`
	TestStart  string `json:"test_start"`
	TestEnd    string `json:"test_end"`
	SplitRatio string `json:"split_ratio"`
	RunID      string `json:"run_id,omitempty"`
}

// RetrainResponse は /retrain の成功レスポンスです。
type RetrainResponse struct {
	Status       string       `json:"status"`
	ModelType    string       `json:"model_type"`
	Metrics      Metrics      `json:"metrics"`
	TrainingInfo TrainingInfo `json:"training_info"`
}

// ItemPrediction は1商品・1日分の予測値です。
// SalesQuantity は非負整数、SalesAmount は非負に丸められます。
type ItemPrediction struct {
	ItemID          string  `json:"item_id"`
	SalesAmount     float64 `json:"sales_amount"`
	SalesQuantity   int     `json:"sales_quantity"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// DailyForecast は1日分の全商品の予測をまとめたものです。
type DailyForecast struct {
	Date        string           `json:"date"`
	Predictions []ItemPrediction `json:"predictions"`
}

// ForecastResponse は /predict および /predict_custom のレスポンスです。
type ForecastResponse struct {
	BusinessID string          `json:"business_id"`
	Forecast   []DailyForecast `json:"forecast"`
}
