package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmed/clinic-booking/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	clinics, err := seedClinics(context.Background(), pool, 20)
	if err != nil {
		log.Fatalf("seed clinics: %v", err)
	}
	doctors, err := seedDoctors(context.Background(), pool, clinics, 100)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 5000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedSlots(context.Background(), pool, doctors, 20); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedClinics(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d clinics", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Company() + " Clinic"
		city := gofakeit.City()

		_, err := tx.Exec(ctx, `
			INSERT INTO clinics (id, name, city, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, city)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, tx.Commit(ctx)
}

type seededDoctor struct {
	ID       uuid.UUID
	ClinicID uuid.UUID
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, clinics []uuid.UUID, count int) ([]seededDoctor, error) {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	doctors := make([]seededDoctor, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		clinicID := clinics[gofakeit.Number(0, len(clinics)-1)]
		name := "Dr. " + gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, clinic_id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, clinicID, name, spec)
		if err != nil {
			return nil, err
		}
		doctors = append(doctors, seededDoctor{ID: id, ClinicID: clinicID})
	}

	return doctors, tx.Commit(ctx)
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		email := gofakeit.Email()

		_, err := tx.Exec(ctx, `
			INSERT INTO patients (id, name, email, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, email)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func seedSlots(ctx context.Context, pool *pgxpool.Pool, doctors []seededDoctor, perDoctor int) error {
	log.Printf("seeding %d slots per doctor", perDoctor)

	durations := []int{15, 30, 45, 60}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, doc := range doctors {
		day := time.Now().Truncate(24 * time.Hour).Add(24 * time.Hour)
		for i := 0; i < perDoctor; i++ {
			id := uuid.New()
			start := day.Add(time.Duration(9+i%8) * time.Hour)
			if i > 0 && i%8 == 0 {
				day = day.Add(24 * time.Hour)
			}
			duration := durations[gofakeit.Number(0, len(durations)-1)]
			capacity := gofakeit.Number(1, 3)

			_, err := tx.Exec(ctx, `
				INSERT INTO appointment_slots (id, doctor_id, clinic_id, start_time, duration_minutes, capacity, booked_count, is_booked, is_active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, 0, false, true, now(), now())
			`, id, doc.ID, doc.ClinicID, start, duration, capacity)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}
