package main

import (
	"sort"
	"sync"
	"time"

	"codelens/analysis"

	"github.com/sirupsen/logrus"
)

const defaultRequestHistory = 200

// RequestRecord follows one analysis request through its lifecycle
type RequestRecord struct {
	ID        string           `json:"id"`
	RegionID  string           `json:"region_id"`
	State     analysis.State   `json:"state"`
	Error     string           `json:"error,omitempty"`
	History   []analysis.State `json:"history"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// RequestStore keeps the most recent request records for the API
type RequestStore struct {
	sync.RWMutex
	requests map[string]*RequestRecord
	limit    int
}

func newRequestStore(limit int) *RequestStore {
	if limit <= 0 {
		limit = defaultRequestHistory
	}
	return &RequestStore{
		requests: make(map[string]*RequestRecord),
		limit:    limit,
	}
}

// track applies a state change, creating the record on first sight.
func (store *RequestStore) track(sc analysis.StateChange) {
	store.Lock()
	defer store.Unlock()

	record, exists := store.requests[sc.RequestID]
	if !exists {
		record = &RequestRecord{ID: sc.RequestID, RegionID: sc.RegionID, CreatedAt: sc.At}
		store.requests[sc.RequestID] = record
	}
	record.State = sc.State
	record.History = append(record.History, sc.State)
	record.UpdatedAt = sc.At
	if sc.Err != nil {
		record.Error = analysis.UserMessage(sc.Err)
	}

	log.WithFields(logrus.Fields{
		"request": sc.RequestID,
		"region":  sc.RegionID,
		"state":   sc.State,
	}).Debug("Request state updated")

	if len(store.requests) > store.limit {
		store.pruneLocked()
	}
}

// pruneLocked drops the oldest finished records until the store fits its limit.
func (store *RequestStore) pruneLocked() {
	finished := make([]*RequestRecord, 0, len(store.requests))
	for _, record := range store.requests {
		if record.State.Terminal() {
			finished = append(finished, record)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].UpdatedAt.Before(finished[j].UpdatedAt)
	})
	for _, record := range finished {
		if len(store.requests) <= store.limit {
			return
		}
		delete(store.requests, record.ID)
	}
}

func (store *RequestStore) getRequest(id string) (RequestRecord, bool) {
	store.RLock()
	defer store.RUnlock()
	record, exists := store.requests[id]
	if !exists {
		return RequestRecord{}, false
	}
	return record.snapshot(), true
}

// GetAllRequests returns every record, newest first
func (store *RequestStore) GetAllRequests() []RequestRecord {
	store.RLock()
	defer store.RUnlock()

	records := make([]RequestRecord, 0, len(store.requests))
	for _, record := range store.requests {
		records = append(records, record.snapshot())
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	return records
}

func (r *RequestRecord) snapshot() RequestRecord {
	c := *r
	c.History = append([]analysis.State(nil), r.History...)
	return c
}
