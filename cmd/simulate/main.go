package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
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

	"github.com/oakmed/clinic-booking/internal/db"
)

// simulate drives concurrent booking traffic against a running
// api-server to observe how slot contention resolves: every loser of a
// capacity race should see 409 slot_unavailable, never a double booking.

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookRatio    float64
	CancelRatio  float64
	PatientLimit int
	SlotLimit    int
	PostgresDSN  string
}

func loadSimConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   envStr("SIM_API_URL", "http://127.0.0.1:8080"),
		Duration:     envDuration("SIM_DURATION", 30*time.Second),
		Workers:      envInt("SIM_WORKERS", 32),
		BookRatio:    envFloat("SIM_BOOK_RATIO", 0.5),
		CancelRatio:  envFloat("SIM_CANCEL_RATIO", 0.2),
		PatientLimit: envInt("SIM_PATIENT_LIMIT", 500),
		SlotLimit:    envInt("SIM_SLOT_LIMIT", 50),
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
	}
	return cfg
}

type simSlot struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
	ClinicID uuid.UUID
}

type DataPool struct {
	Patients []uuid.UUID
	Slots    []simSlot

	mu       sync.RWMutex
	bookings []uuid.UUID
}

func (dp *DataPool) AddBooking(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, id)
}

func (dp *DataPool) RandomBooking() (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return uuid.Nil, false
	}
	return dp.bookings[rand.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total    int64
	Success  int64
	Conflict int64
	Error    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0
	}

	sorted := make([]time.Duration, len(om.latencies))
	copy(sorted, om.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	avg = sum / time.Duration(len(sorted))
	p50 = sorted[len(sorted)*50/100]
	p95 = sorted[min(len(sorted)*95/100, len(sorted)-1)]
	return avg, p50, p95
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cfg := loadSimConfig()
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required to load patients and slots")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}

	dp, err := loadDataPool(context.Background(), pool, cfg)
	pool.Close()
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded %d patients and %d open slots", len(dp.Patients), len(dp.Slots))

	bookMetrics := &OperationMetrics{}
	cancelMetrics := &OperationMetrics{}
	readMetrics := &OperationMetrics{}

	client := &http.Client{Timeout: 10 * time.Second}
	runCtx, stopRun := context.WithTimeout(context.Background(), cfg.Duration)
	defer stopRun()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(runCtx, client, cfg, dp, bookMetrics, cancelMetrics, readMetrics)
		}()
	}
	wg.Wait()

	report("book", bookMetrics)
	report("cancel", cancelMetrics)
	report("read", readMetrics)
}

func worker(ctx context.Context, client *http.Client, cfg SimConfig, dp *DataPool, book, cancelM, read *OperationMetrics) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rand.Float64()
		switch {
		case r < cfg.BookRatio:
			doBook(ctx, client, cfg, dp, book)
		case r < cfg.BookRatio+cfg.CancelRatio:
			doCancel(ctx, client, cfg, dp, cancelM)
		default:
			doRead(ctx, client, cfg, read)
		}
	}
}

func doBook(ctx context.Context, client *http.Client, cfg SimConfig, dp *DataPool, m *OperationMetrics) {
	patient := dp.Patients[rand.Intn(len(dp.Patients))]
	slot := dp.Slots[rand.Intn(len(dp.Slots))]

	body, _ := json.Marshal(map[string]string{
		"patient_id": patient.String(),
		"doctor_id":  slot.DoctorID.String(),
		"clinic_id":  slot.ClinicID.String(),
		"slot_id":    slot.ID.String(),
	})

	start := time.Now()
	resp, err := post(ctx, client, cfg.APIBaseURL+"/api/v1/appointments/book", body)
	latency := time.Since(start)
	if err != nil {
		m.Record(latency, false, false)
		return
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusCreated:
		var out struct {
			ID uuid.UUID `json:"id"`
		}
		if json.NewDecoder(resp.Body).Decode(&out) == nil {
			dp.AddBooking(out.ID)
		}
		m.Record(latency, true, false)
	case resp.StatusCode == http.StatusConflict:
		m.Record(latency, false, true)
	default:
		m.Record(latency, false, false)
	}
}

func doCancel(ctx context.Context, client *http.Client, cfg SimConfig, dp *DataPool, m *OperationMetrics) {
	id, ok := dp.RandomBooking()
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]string{
		"cancelled_reason": "load test cancellation",
	})

	start := time.Now()
	resp, err := post(ctx, client, fmt.Sprintf("%s/api/v1/appointments/%s/cancel", cfg.APIBaseURL, id), body)
	latency := time.Since(start)
	if err != nil {
		m.Record(latency, false, false)
		return
	}
	defer drain(resp)

	m.Record(latency, resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusConflict)
}

func doRead(ctx context.Context, client *http.Client, cfg SimConfig, m *OperationMetrics) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.APIBaseURL+"/api/v1/slots?limit=20", nil)
	if err != nil {
		return
	}
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		m.Record(latency, false, false)
		return
	}
	defer drain(resp)

	m.Record(latency, resp.StatusCode == http.StatusOK, false)
}

func post(ctx context.Context, client *http.Client, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dp.Patients = append(dp.Patients, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slotRows, err := pool.Query(ctx, `
		SELECT id, doctor_id, clinic_id FROM appointment_slots
		WHERE is_active AND booked_count < capacity
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, err
	}
	defer slotRows.Close()
	for slotRows.Next() {
		var s simSlot
		if err := slotRows.Scan(&s.ID, &s.DoctorID, &s.ClinicID); err != nil {
			return nil, err
		}
		dp.Slots = append(dp.Slots, s)
	}
	if err := slotRows.Err(); err != nil {
		return nil, err
	}

	if len(dp.Patients) == 0 || len(dp.Slots) == 0 {
		return nil, fmt.Errorf("no patients or open slots found, run cmd/seed first")
	}
	return dp, nil
}

func report(name string, m *OperationMetrics) {
	avg, p50, p95 := m.Stats()
	log.Printf("%s: total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s",
		name, m.Total, m.Success, m.Conflict, m.Error, avg, p50, p95)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
