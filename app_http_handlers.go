package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"codelens/analysis"

	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// statusHandler handles the GET /api/status endpoint
func (app *App) statusHandler(c *gin.Context) {
	stats := app.Dispatcher.Stats()
	c.JSON(http.StatusOK, gin.H{
		"online":      app.Transport.IsOnline(),
		"scanning":    app.isScanning(),
		"model":       analysisModel,
		"queued":      stats.Queued,
		"in_flight":   stats.InFlight,
		"retry_queue": app.Transport.QueueLen(),
		"regions":     app.Scheduler.Store().Len(),
		"last_error":  app.lastAPIError(),
	})
}

// startScanHandler handles the POST /api/scan/start endpoint
func (app *App) startScanHandler(c *gin.Context) {
	started := app.startScan()
	c.JSON(http.StatusOK, gin.H{"scanning": true, "changed": started})
}

// stopScanHandler handles the POST /api/scan/stop endpoint
func (app *App) stopScanHandler(c *gin.Context) {
	stopped := app.stopScan()
	c.JSON(http.StatusOK, gin.H{"scanning": false, "changed": stopped})
}

// connectivityHandler handles the POST /api/connectivity endpoint
func (app *App) connectivityHandler(c *gin.Context) {
	var req struct {
		Online *bool `json:"online"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Online == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	app.Transport.SetOnline(*req.Online)
	c.JSON(http.StatusOK, gin.H{"online": app.Transport.IsOnline()})
}

// annotationsHandler handles the GET /api/annotations endpoint
func (app *App) annotationsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, app.Tracker.Annotations())
}

// regionsHandler handles the GET /api/regions endpoint
func (app *App) regionsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, app.Scheduler.Store().Regions())
}

// getAllRequestsHandler handles the GET /api/requests endpoint
func (app *App) getAllRequestsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, app.Requests.GetAllRequests())
}

// getRequestHandler handles the GET /api/requests/:id endpoint
func (app *App) getRequestHandler(c *gin.Context) {
	id := c.Param("id")
	record, exists := app.Requests.getRequest(id)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Request not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

// historyHandler handles the GET /api/history endpoint
func (app *App) historyHandler(c *gin.Context) {
	if app.Database == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "History is not available"})
		return
	}

	if regionID := c.Query("region"); regionID != "" {
		records, err := GetAnalysesForRegion(app.Database, regionID)
		if err != nil {
			log.Errorf("Error fetching history for region %s: %v", regionID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch history"})
			return
		}
		c.JSON(http.StatusOK, records)
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := GetRecentAnalyses(app.Database, limit)
	if err != nil {
		log.Errorf("Error fetching history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch history"})
		return
	}
	c.JSON(http.StatusOK, records)
}

// getPromptsHandler handles the GET /api/prompts endpoint
func (app *App) getPromptsHandler(c *gin.Context) {
	templateMutex.RLock()
	defer templateMutex.RUnlock()

	content, err := os.ReadFile(filepath.Join(promptsDir, analysisPromptFile))
	if err != nil {
		content = []byte(analysis.DefaultPromptTemplate)
	}
	c.JSON(http.StatusOK, gin.H{"analysis_template": string(content)})
}

// updatePromptsHandler handles the POST /api/prompts endpoint
func (app *App) updatePromptsHandler(c *gin.Context) {
	var req struct {
		AnalysisTemplate string `json:"analysis_template"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.AnalysisTemplate == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	tmpl, err := analysis.ParsePromptTemplate(req.AnalysisTemplate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid analysis template: %v", err)})
		return
	}

	templateMutex.Lock()
	defer templateMutex.Unlock()

	analysisTemplate = tmpl
	app.Dispatcher.SetPromptTemplate(tmpl)

	if err := os.MkdirAll(promptsDir, os.ModePerm); err != nil {
		log.Errorf("Failed to create prompts directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(promptsDir, analysisPromptFile), []byte(req.AnalysisTemplate), 0644); err != nil {
		log.Errorf("Failed to write %s: %v", analysisPromptFile, err)
	}

	c.Status(http.StatusOK)
}
