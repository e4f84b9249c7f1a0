package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/caretide/clinic-ops/internal/auth"
	"github.com/caretide/clinic-ops/internal/config"
	"github.com/caretide/clinic-ops/internal/db"
)

// The simulator hammers POST /appointments with many workers racing for a
// deliberately small set of provider/time-window combinations, so most
// requests collide. Conflicts are the expected outcome, not errors.
type SimConfig struct {
	APIBaseURL string
	Duration   time.Duration
	Workers    int
	Providers  int // size of the contended provider pool
	Windows    int // distinct half-hour windows per provider
}

type DataPool struct {
	Patients      []uuid.UUID
	Providers     []uuid.UUID
	PatientTokens []string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	Latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status == http.StatusCreated:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)/2]
	p95 = latencies[len(latencies)*95/100]
	return avg, p50, p95
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}

	sim := SimConfig{
		APIBaseURL: getEnv("SIM_API_URL", "http://127.0.0.1:8080"),
		Duration:   getDurationEnv("SIM_DURATION", 30*time.Second),
		Workers:    getIntEnv("SIM_WORKERS", 20),
		Providers:  getIntEnv("SIM_PROVIDERS", 3),
		Windows:    getIntEnv("SIM_WINDOWS", 4),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	data, err := loadDataPool(context.Background(), pool, cfg.JWTSecret, sim)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().
		Int("patients", len(data.Patients)).
		Int("providers", len(data.Providers)).
		Int("workers", sim.Workers).
		Dur("duration", sim.Duration).
		Msg("simulation starting")

	metrics := &OperationMetrics{}
	deadline := time.Now().Add(sim.Duration)
	windowBase := time.Now().Truncate(time.Hour).Add(48 * time.Hour)

	var wg sync.WaitGroup
	for w := 0; w < sim.Workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			client := &http.Client{Timeout: 10 * time.Second}
			for time.Now().Before(deadline) {
				i := rng.Intn(len(data.Patients))
				provider := data.Providers[rng.Intn(len(data.Providers))]
				window := windowBase.Add(time.Duration(rng.Intn(sim.Windows)) * 30 * time.Minute)
				bookOnce(client, sim.APIBaseURL, data.PatientTokens[i], provider, window, metrics)
			}
		}(int64(w) + time.Now().UnixNano())
	}
	wg.Wait()

	avg, p50, p95 := metrics.Stats()
	logger.Info().
		Int64("total", atomic.LoadInt64(&metrics.Total)).
		Int64("success", atomic.LoadInt64(&metrics.Success)).
		Int64("conflict", atomic.LoadInt64(&metrics.Conflict)).
		Int64("error", atomic.LoadInt64(&metrics.Error)).
		Dur("latency_avg", avg).
		Dur("latency_p50", p50).
		Dur("latency_p95", p95).
		Msg("simulation complete")
}

func bookOnce(client *http.Client, baseURL, token string, providerID uuid.UUID, start time.Time, metrics *OperationMetrics) {
	body, _ := json.Marshal(map[string]any{
		"provider_id":      providerID.String(),
		"start_time":       start.Format(time.RFC3339),
		"duration_minutes": 30,
		"type":             "in-person",
		"reason":           "load simulation",
	})

	req, err := http.NewRequest(http.MethodPost, baseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		metrics.Record(0, 0)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	startedAt := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(startedAt)
	if err != nil {
		metrics.Record(latency, 0)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	metrics.Record(latency, resp.StatusCode)
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, jwtSecret string, sim SimConfig) (*DataPool, error) {
	data := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT 200`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		data.Patients = append(data.Patients, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	provRows, err := pool.Query(ctx, `SELECT id FROM providers WHERE kind = 'doctor' LIMIT $1`, sim.Providers)
	if err != nil {
		return nil, err
	}
	defer provRows.Close()
	for provRows.Next() {
		var id uuid.UUID
		if err := provRows.Scan(&id); err != nil {
			return nil, err
		}
		data.Providers = append(data.Providers, id)
	}
	if err := provRows.Err(); err != nil {
		return nil, err
	}

	if len(data.Patients) == 0 || len(data.Providers) == 0 {
		return nil, fmt.Errorf("no seeded patients/providers found, run cmd/seed first")
	}

	for _, id := range data.Patients {
		token, err := auth.Sign(jwtSecret, id, auth.RolePatient, time.Hour)
		if err != nil {
			return nil, err
		}
		data.PatientTokens = append(data.PatientTokens, token)
	}
	return data, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
