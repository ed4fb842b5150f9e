package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

type seriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type queryRequest struct {
	Entity string `json:"entity"`
	Metric string `json:"metric"`
	Start  string `json:"start"`
	End    string `json:"end"`
}

var entities = []string{
	"web-server-01",
	"web-server-02",
	"api-server-01",
	"db-server-01",
	"cache-server-01",
}

var metricBases = map[string]float64{
	"cpu.usage.average":         45,
	"mem.usage.average":         55,
	"cpu.ready.summation":       2,
	"disk.totalLatency.average": 8,
	"net.usage.average":         220,
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/metrics/query", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		start, err := time.Parse(time.RFC3339, req.Start)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		end, err := time.Parse(time.RFC3339, req.End)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"series": syntheticSeries(req.Entity, req.Metric, start, end),
		})
	})

	mux.HandleFunc("/api/v1/metrics/entities", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, map[string]any{"entities": entities})
	})

	logger := log.New(log.Writer(), "store-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// syntheticSeries generates a deterministic 30-minute cadence series shaped by
// time of day, so repeated queries return identical data. db-server-01 skips
// the 03:00 hour to simulate a nightly backup blackout.
func syntheticSeries(entity, metric string, start, end time.Time) []seriesPoint {
	base, ok := metricBases[metric]
	if !ok {
		base = 50
	}

	// Stable per-entity offset keeps servers distinguishable.
	var offset float64
	for _, ch := range entity {
		offset += float64(int(ch) % 5)
	}
	offset = offset - 10

	points := []seriesPoint{}
	for i, ts := 0, start; !ts.After(end); i, ts = i+1, ts.Add(30*time.Minute) {
		if entity == "db-server-01" && ts.UTC().Hour() == 3 {
			continue
		}

		value := base + offset
		hour := ts.UTC().Hour()
		switch {
		case hour >= 9 && hour < 18:
			value += 20
		case hour < 6:
			value -= 15
		}
		if weekday := ts.UTC().Weekday(); weekday == time.Saturday || weekday == time.Sunday {
			value *= 0.7
		}
		value += float64(i%7) - 3
		if value < 0 {
			value = 0
		}

		points = append(points, seriesPoint{Timestamp: ts.UTC(), Value: value})
	}
	return points
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
