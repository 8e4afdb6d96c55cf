package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mescon/InfinityStatus/internal/activity"
	"github.com/mescon/InfinityStatus/internal/clock"
	"github.com/mescon/InfinityStatus/internal/config"
	"github.com/mescon/InfinityStatus/internal/db"
	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/registry"
	"github.com/mescon/InfinityStatus/internal/syncstore"
)

func main() {
	dbPath := flag.String("db", "./config/infinity.db", "Database file to seed")
	docPath := flag.String("document", syncstore.DefaultDocumentPath, "Shared document key")
	flag.Parse()

	repo, err := db.NewRepositoryWithDriver(db.DriverCGo, *dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer repo.Close()

	ctx := context.Background()
	fmt.Println("Seeding database...")

	// Shared document: the default pair, frame timer mid-cycle and running
	clk := clock.NewMockClock(time.Now().Add(-4 * time.Minute))
	reg := registry.New(clk)
	for _, p := range config.DefaultTimerPresets() {
		if _, err := reg.Create(p.ID, p.Name, p.Duration); err != nil {
			log.Fatalf("Failed to create timer %s: %v", p.ID, err)
		}
	}
	reg.Start("frame")
	clk.Advance(4 * time.Minute)
	reg.ReadAll()

	store := syncstore.NewSQLiteStore(repo.DB, *docPath, 0)
	if err := store.Put(ctx, reg.Document()); err != nil {
		log.Printf("Failed to write shared document: %v", err)
	}
	_ = store.Close()

	// Schedules
	schedules := []struct {
		TimerID string
		Action  string
		Cron    string
		Enabled bool
	}{
		{"frame", "start", "0 9 * * 1-5", true},
		{"frame", "stop", "0 17 * * 1-5", true},
		{"", "synchronize", "*/30 * * * *", false},
	}
	for _, s := range schedules {
		_, err := repo.DB.Exec("INSERT INTO timer_schedules (timer_id, action, cron_expression, enabled) VALUES (?, ?, ?, ?)",
			s.TimerID, s.Action, s.Cron, s.Enabled)
		if err != nil {
			log.Printf("Failed to insert schedule: %v", err)
		}
	}

	// Activity board
	var count int64
	for i := 0; i < 5; i++ {
		count++
		entry := activity.Entry{
			ID:        uuid.New().String(),
			Message:   fmt.Sprintf("Counter incremented to %d", count),
			CreatedAt: time.Now().Add(time.Duration(i-5) * time.Minute),
		}
		if err := repo.SaveActivity(ctx, count, entry, activity.LogCapacity); err != nil {
			log.Printf("Failed to insert activity entry: %v", err)
		}
	}

	// Event history
	for _, st := range reg.States() {
		for _, et := range []domain.EventType{domain.TimerCreated, domain.TimerStarted, domain.TimerCycleCompleted} {
			if et != domain.TimerCreated && !st.Running {
				continue
			}
			ev := domain.NewTimerEvent(et, st, "seeder")
			data, _ := json.Marshal(ev.EventData)
			_, err := repo.DB.Exec("INSERT INTO events (aggregate_type, aggregate_id, event_type, event_data) VALUES (?, ?, ?, ?)",
				ev.AggregateType, ev.AggregateID, string(ev.EventType), string(data))
			if err != nil {
				log.Printf("Failed to insert event: %v", err)
			}
		}
	}

	fmt.Println("Seeding complete.")
}
