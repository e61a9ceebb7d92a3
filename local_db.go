package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codelens/analysis"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	defaultDBPath = "db/analysis_history.db"
	historyBuffer = 64
)

// AnalysisRecord represents the schema of the analysis_records table
type AnalysisRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	RequestID   string    `gorm:"size:64;uniqueIndex;not null" json:"request_id"`
	RegionID    string    `gorm:"size:64;index;not null" json:"region_id"`
	Provider    string    `gorm:"size:32;not null" json:"provider"`
	Model       string    `gorm:"size:128" json:"model"`
	Language    string    `gorm:"size:64" json:"language"`
	Issues      int       `gorm:"not null;default:0" json:"issues"`
	Suggestions int       `gorm:"not null;default:0" json:"suggestions"`
	Raw         bool      `gorm:"not null;default:false" json:"raw"`
	Result      string    `gorm:"size:1048576" json:"result"` // normalized result as JSON
	CompletedAt time.Time `gorm:"index" json:"completed_at"`
}

// InitializeDB opens the SQLite database at path and migrates the schema
func InitializeDB(path string) *gorm.DB {
	if path == "" {
		path = defaultDBPath
	}

	// Ensure db directory exists
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create db directory: %v", err)
	}

	db, err := openDB(path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	return db
}

func openDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Migrate the schema (create the table if it doesn't exist)
	if err := db.AutoMigrate(&AnalysisRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return db, nil
}

// newAnalysisRecord flattens a result for storage
func newAnalysisRecord(result analysis.Result) (AnalysisRecord, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return AnalysisRecord{}, fmt.Errorf("error encoding result %s: %w", result.RequestID, err)
	}
	return AnalysisRecord{
		RequestID:   result.RequestID,
		RegionID:    result.RegionID,
		Provider:    string(result.Provider),
		Model:       result.Model,
		Language:    result.Language,
		Issues:      len(result.Issues),
		Suggestions: len(result.Suggestions),
		Raw:         result.Raw,
		Result:      string(data),
		CompletedAt: result.CompletedAt,
	}, nil
}

// InsertAnalysis stores a completed analysis result
func InsertAnalysis(db *gorm.DB, result analysis.Result) error {
	record, err := newAnalysisRecord(result)
	if err != nil {
		return err
	}
	return db.Create(&record).Error
}

// GetRecentAnalyses returns up to limit records, newest first
func GetRecentAnalyses(db *gorm.DB, limit int) ([]AnalysisRecord, error) {
	var records []AnalysisRecord
	result := db.Order("completed_at desc").Order("id desc").Limit(limit).Find(&records)
	return records, result.Error
}

// GetAnalysesForRegion returns every record of one region, newest first
func GetAnalysesForRegion(db *gorm.DB, regionID string) ([]AnalysisRecord, error) {
	var records []AnalysisRecord
	result := db.Where("region_id = ?", regionID).Order("completed_at desc").Order("id desc").Find(&records)
	return records, result.Error
}

// historyWriter stores completed results on its own goroutine so that a
// slow disk never holds up the publisher.
type historyWriter struct {
	db    *gorm.DB
	queue chan analysis.Result
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newHistoryWriter(db *gorm.DB, size int) *historyWriter {
	if size <= 0 {
		size = historyBuffer
	}
	w := &historyWriter{
		db:    db,
		queue: make(chan analysis.Result, size),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *historyWriter) run() {
	defer close(w.done)
	for result := range w.queue {
		if err := InsertAnalysis(w.db, result); err != nil {
			log.WithField("request", result.RequestID).Errorf("Failed to store analysis: %v", err)
		}
	}
}

// Submit hands result to the writer without blocking. It reports false when
// the buffer is full or the writer is closed; the result is then not stored.
func (w *historyWriter) Submit(result analysis.Result) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.queue <- result:
		return true
	default:
		log.WithField("request", result.RequestID).Warn("History buffer full, dropping analysis record")
		return false
	}
}

// Close stores everything already submitted and stops the writer.
func (w *historyWriter) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
}
