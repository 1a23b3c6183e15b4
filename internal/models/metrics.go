package models

import "time"

// SystemMetrics summarises gateway activity for the metrics summary endpoint.
type SystemMetrics struct {
	RequestsTotal             uint64    `json:"requestsTotal"`
	AverageRequestDurationMs  float64   `json:"averageRequestDurationMs"`
	UpstreamRequests          uint64    `json:"upstreamRequests"`
	UpstreamErrors            uint64    `json:"upstreamErrors"`
	AverageUpstreamDurationMs float64   `json:"averageUpstreamDurationMs"`
	Submissions               uint64    `json:"submissions"`
	FailedSubmissions         uint64    `json:"failedSubmissions"`
	CacheHitRatio             float64   `json:"cacheHitRatio"`
	CacheHits                 uint64    `json:"cacheHits"`
	CacheMisses               uint64    `json:"cacheMisses"`
	DBQueryCount              uint64    `json:"dbQueryCount"`
	AverageDBQueryDurationMs  float64   `json:"averageDbQueryDurationMs"`
	Goroutines                int       `json:"goroutines"`
	GeneratedAt               time.Time `json:"generatedAt"`
}
