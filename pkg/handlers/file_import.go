package handlers

import (
	"encoding/csv"
	"fmt"
	"log"
	"net/http"
	"strings"

	"bizai-forecast-api/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

// RetrainFromFile アップロードされた xlsx/csv ファイルから再学習を実行。
// 必須列は日付・商品ID・売上金額で、その他の列はあれば取り込みます。
func (fh *ForecastHandler) RetrainFromFile(c *gin.Context) {
	c.Request.ParseMultipartForm(10 << 20) // 10MB limit

	businessID := c.PostForm("business_id")
	if businessID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing fields"})
		return
	}

	file, fileHeader, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ファイルの取得に失敗しました。"})
		return
	}
	defer file.Close()

	var rows [][]string
	fileName := fileHeader.Filename

	if strings.HasSuffix(strings.ToLower(fileName), ".xlsx") {
		f, err := excelize.OpenReader(file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Excelファイルの読み込みに失敗しました。"})
			return
		}
		rows, err = f.GetRows(f.GetSheetName(0))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Excelシートの行取得に失敗しました。"})
			return
		}
	} else if strings.HasSuffix(strings.ToLower(fileName), ".csv") {
		r := csv.NewReader(file)
		rows, err = r.ReadAll()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "CSVファイルの解析に失敗しました。"})
			return
		}
	} else {
		c.JSON(http.StatusBadRequest, gin.H{"error": "サポートされていないファイル形式です。.xlsxまたは.csvをアップロードしてください。"})
		return
	}

	if len(rows) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ファイルにはヘッダー行と少なくとも1行のデータが必要です。"})
		return
	}

	records, parseErrors, err := recordsFromRows(rows)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "有効なデータ行がありませんでした。"})
		return
	}

	log.Printf("ファイル取込: name=%s rows=%d parsed=%d errors=%d",
		fileName, len(rows)-1, len(records), len(parseErrors))

	response, err := fh.forecastService.Retrain(businessID, records)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        response.Status,
		"model_type":    response.ModelType,
		"metrics":       response.Metrics,
		"training_info": response.TrainingInfo,
		"file_name":     fileName,
		"parsed_rows":   len(records),
		"skipped_rows":  len(parseErrors),
	})
}

// recordsFromRows ヘッダー行の列名検出を行い、データ行を SalesRecord に変換
func recordsFromRows(rows [][]string) ([]models.SalesRecord, []string, error) {
	header := rows[0]
	dataRows := rows[1:]

	dateCol := findIndex(header, "date", "日付")
	productCol := findIndex(header, "product_id", "product_code", "製品ID", "製品コード", "商品ID", "商品コード")
	amountCol := findIndex(header, "sales_amount", "売上金額", "売上")
	qtyCol := findIndex(header, "sales_quantity", "quantity", "販売数", "数量")
	weatherCol := findIndex(header, "weather_condition", "weather", "天気")
	tempCol := findIndex(header, "temperature", "気温")
	fuelCol := findIndex(header, "fuel_price", "燃料価格")
	hasOffersCol := findIndex(header, "has_offers", "販促有無")
	offerAmountCol := findIndex(header, "offer_amount", "販促額")
	isHolidayCol := findIndex(header, "is_holiday", "祝日フラグ")
	holidaysCol := findIndex(header, "holidays_list", "祝日")
	festivalsCol := findIndex(header, "festivals", "祭事")
	eventsCol := findIndex(header, "local_events", "地域イベント")

	var missing []string
	if dateCol == -1 {
		missing = append(missing, "日付")
	}
	if productCol == -1 {
		missing = append(missing, "商品ID")
	}
	if amountCol == -1 {
		missing = append(missing, "売上金額")
	}
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("必要な列が見つかりませんでした: %s。ヘッダー: %v",
			strings.Join(missing, ", "), header)
	}

	var records []models.SalesRecord
	var parseErrors []string
	for i, row := range dataRows {
		date, ok := parseFlexibleDate(cellString(row, dateCol))
		productID := cellString(row, productCol)
		if !ok || productID == "" {
			if len(parseErrors) < 5 {
				parseErrors = append(parseErrors, fmt.Sprintf("行%d: 日付または商品IDが不正です", i+2))
			} else {
				parseErrors = append(parseErrors, "")
			}
			continue
		}
		records = append(records, models.SalesRecord{
			Date:             date,
			ProductID:        productID,
			SalesAmount:      cellFloat(row, amountCol),
			SalesQuantity:    cellFloat(row, qtyCol),
			WeatherCondition: cellString(row, weatherCol),
			Temperature:      cellFloat(row, tempCol),
			FuelPrice:        cellFloat(row, fuelCol),
			HasOffers:        cellInt(row, hasOffersCol),
			OfferAmount:      cellFloat(row, offerAmountCol),
			IsHoliday:        cellInt(row, isHolidayCol),
			HolidaysList:     cellList(row, holidaysCol),
			Festivals:        cellList(row, festivalsCol),
			LocalEvents:      cellList(row, eventsCol),
		})
	}
	return records, parseErrors, nil
}
