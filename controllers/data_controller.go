package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"marketdata_hub/models"
	"marketdata_hub/services/aggregator"
	"marketdata_hub/services/cache"
	"marketdata_hub/services/orchestrator"
	"marketdata_hub/services/store"
)

// DataController serves on-demand market data reads.
type DataController struct {
	brain  *orchestrator.Brain
	quotes *cache.QuoteCache
	news   *store.NewsStore
}

// NewDataController creates a new data controller.
func NewDataController(brain *orchestrator.Brain, quotes *cache.QuoteCache, news *store.NewsStore) *DataController {
	return &DataController{brain: brain, quotes: quotes, news: news}
}

// GetQuote returns the merged quote for a symbol, served through the
// short-TTL cache.
// GET /api/v1/quotes/:symbol
func (dc *DataController) GetQuote(c *gin.Context) {
	symbol := c.Param("symbol")
	if err := aggregator.ValidateSymbol(symbol); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid symbol"})
		return
	}

	res := dc.quotes.Get(c.Request.Context(), symbol)
	dc.renderResult(c, res)
}

// GetData runs an on-demand aggregation pass for any data type.
// GET /api/v1/data/:datatype/:symbol
func (dc *DataController) GetData(c *gin.Context) {
	dt, err := models.ParseDataType(c.Param("datatype"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res := dc.brain.Fetch(c.Request.Context(), dt, c.Param("symbol"))
	dc.renderResult(c, res)
}

// GetNews returns stored articles for a symbol, newest first.
// GET /api/v1/news/:symbol
func (dc *DataController) GetNews(c *gin.Context) {
	symbol := c.Param("symbol")
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)

	articles, err := dc.news.RecentNews(c.Request.Context(), symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch news"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "articles": articles})
}

func (dc *DataController) renderResult(c *gin.Context, res *models.FetchResult) {
	if res == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No result"})
		return
	}
	if res.Err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": res.ErrorMessage()})
		return
	}
	if !res.Success {
		c.JSON(http.StatusNotFound, gin.H{"error": "No data available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":     res.Data.Symbol,
		"data_type":  res.Data.DataType,
		"source":     res.Provider,
		"fetched_at": res.Data.FetchedAt,
		"fields":     res.Data.Fields,
		"records":    res.Data.Records,
	})
}
