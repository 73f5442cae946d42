package handlers

import (
	"errors"
	"net/http"
	"os"

	"bizai-forecast-api/pkg/models"
	"bizai-forecast-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// ForecastHandler 売上予測ハンドラー
type ForecastHandler struct {
	forecastService *services.ForecastService
}

// NewForecastHandler 新しい売上予測ハンドラーを作成
func NewForecastHandler(forecastService *services.ForecastService) *ForecastHandler {
	return &ForecastHandler{forecastService: forecastService}
}

// Retrain 履歴データからモデルを再学習
func (fh *ForecastHandler) Retrain(c *gin.Context) {
	var request models.RetrainRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "リクエストの解析に失敗しました: " + err.Error(),
		})
		return
	}
	if request.BusinessID == "" || len(request.Data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing fields"})
		return
	}

	response, err := fh.forecastService.Retrain(request.BusinessID, request.Data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, response)
}

// Predict 中立な将来条件で日次予測を実行
func (fh *ForecastHandler) Predict(c *gin.Context) {
	var request models.PredictRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "リクエストの解析に失敗しました: " + err.Error(),
		})
		return
	}
	if request.BusinessID == "" || request.BeginDate == "" || request.EndDate == "" || len(request.ItemIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing fields"})
		return
	}

	response, err := fh.forecastService.Predict(&request)
	if err != nil {
		if errors.Is(err, services.ErrModelNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Model not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, response)
}

// PredictCustom 指定された将来条件（天気・販促・祝日）で日次予測を実行
func (fh *ForecastHandler) PredictCustom(c *gin.Context) {
	var request models.PredictCustomRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "リクエストの解析に失敗しました: " + err.Error(),
		})
		return
	}
	if request.BusinessID == "" || len(request.ItemIDs) == 0 || len(request.FutureData) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing fields"})
		return
	}

	response, err := fh.forecastService.PredictCustom(&request)
	if err != nil {
		if errors.Is(err, services.ErrModelNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Model not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, response)
}

// DownloadModel 保存済みモデルのアーティファクトをダウンロード。
// 学習済みモデルは重みファイル、ナイーブモデルはメタデータを返します。
func (fh *ForecastHandler) DownloadModel(c *gin.Context) {
	businessID := c.Param("businessID")
	store := fh.forecastService.Store()

	weightsPath := store.WeightsPath(businessID)
	if _, err := os.Stat(weightsPath); err == nil {
		c.FileAttachment(weightsPath, businessID+".weights")
		return
	}
	metadataPath := store.MetadataPath(businessID)
	if _, err := os.Stat(metadataPath); err == nil {
		c.FileAttachment(metadataPath, businessID+".json")
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Model not found"})
}
