package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"iotdrone-monitor/internal/migrate"
	"iotdrone-monitor/internal/modules/sensors/types"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// :memory: is per connection; keep exactly one.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Fatalf("close db: %v", closeErr)
		}
	})
	if err := migrate.Run(context.Background(), db, slog.Default()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestRepo(t *testing.T, capacity int) (SensorRepository, *sql.DB) {
	t.Helper()
	db := setupTestDB(t)
	repo, err := NewRepository(db, capacity, slog.Default())
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	return repo, db
}

func reading(i int) types.Reading {
	return types.Reading{
		Timestamp:   fmt.Sprintf("2025-02-01 12:%02d:%02d", i/60, i%60),
		Temperature: 20 + float64(i)/10,
		Humidity:    40 + float64(i)/10,
	}
}

func mustCount(t *testing.T, repo SensorRepository) int {
	t.Helper()
	n, err := repo.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

func TestNewRepository_InvalidArgs(t *testing.T) {
	db := setupTestDB(t)

	if _, err := NewRepository(nil, 20, nil); err == nil {
		t.Error("NewRepository(nil db) error = nil, want non-nil")
	}
	if _, err := NewRepository(db, 0, nil); err == nil {
		t.Error("NewRepository(capacity 0) error = nil, want non-nil")
	}
	repo, err := NewRepository(db, 20, nil)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	if repo.Capacity() != 20 {
		t.Errorf("Capacity = %d, want 20", repo.Capacity())
	}
}

func TestInsert_AssignsSequenceIDs(t *testing.T) {
	repo, _ := newTestRepo(t, DefaultCapacity)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		got, err := repo.Insert(ctx, reading(i))
		if err != nil {
			t.Fatalf("Insert #%d: %v", i, err)
		}
		if got.ID != strconv.Itoa(i) {
			t.Errorf("Insert #%d ID = %q, want %q", i, got.ID, strconv.Itoa(i))
		}
	}
}

func TestInsert_SequenceNeverReused(t *testing.T) {
	repo, _ := newTestRepo(t, 2)
	ctx := context.Background()

	var last types.Reading
	for i := 1; i <= 5; i++ {
		got, err := repo.Insert(ctx, reading(i))
		if err != nil {
			t.Fatalf("Insert #%d: %v", i, err)
		}
		last = got
	}
	if last.ID != "5" {
		t.Fatalf("fifth ID = %q, want 5 (evicted sequence numbers must not be reused)", last.ID)
	}
}

func TestInsert_IdenticalPayloadsAreDistinct(t *testing.T) {
	repo, _ := newTestRepo(t, DefaultCapacity)
	ctx := context.Background()

	r := reading(1)
	a, err := repo.Insert(ctx, r)
	if err != nil {
		t.Fatalf("Insert a: %v", err)
	}
	b, err := repo.Insert(ctx, r)
	if err != nil {
		t.Fatalf("Insert b: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("identical payloads got the same ID %q", a.ID)
	}
	if n := mustCount(t, repo); n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}
}

func TestInsert_UpsertByID(t *testing.T) {
	repo, _ := newTestRepo(t, DefaultCapacity)
	ctx := context.Background()

	first := types.Reading{ID: "feed-1", Timestamp: "2025-02-01 12:00:00", Temperature: 21, Humidity: 40}
	if _, err := repo.Insert(ctx, first); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := repo.Insert(ctx, types.Reading{ID: "feed-2", Timestamp: "2025-02-01 12:00:05", Temperature: 22, Humidity: 41}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	updated := first
	updated.Temperature = 25
	got, err := repo.Insert(ctx, updated)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got.ID != "feed-1" {
		t.Errorf("upsert ID = %q, want feed-1", got.ID)
	}

	window, err := repo.Last(ctx, 10)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("Last len = %d, want 2", len(window))
	}
	// The upserted row keeps its original arrival position.
	if window[0].ID != "feed-1" || window[0].Temperature != 25 {
		t.Errorf("window[0] = %+v, want feed-1 with temperature 25", window[0])
	}
}

func TestInsert_EvictsOldestFirst(t *testing.T) {
	repo, _ := newTestRepo(t, 20)
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		if _, err := repo.Insert(ctx, reading(i)); err != nil {
			t.Fatalf("Insert r%d: %v", i, err)
		}
	}

	window, err := repo.Last(ctx, 100)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(window) != 20 {
		t.Fatalf("Last len = %d, want 20", len(window))
	}
	for i, r := range window {
		want := strconv.Itoa(i + 6)
		if r.ID != want {
			t.Fatalf("window[%d].ID = %q, want %q (expected r6..r25)", i, r.ID, want)
		}
		if r.Timestamp != reading(i+6).Timestamp {
			t.Errorf("window[%d].Timestamp = %q, want %q", i, r.Timestamp, reading(i+6).Timestamp)
		}
	}
}

func TestInsert_CountNeverExceedsCapacity(t *testing.T) {
	const capacity = 20
	repo, _ := newTestRepo(t, capacity)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 200; i++ {
		r := reading(i)
		// Mix sequenced inserts with upserts of a small id space.
		if rng.IntN(3) == 0 {
			r.ID = "feed-" + strconv.Itoa(rng.IntN(30))
		}
		if _, err := repo.Insert(ctx, r); err != nil {
			t.Fatalf("Insert #%d: %v", i, err)
		}
		if n := mustCount(t, repo); n > capacity {
			t.Fatalf("after insert #%d: Count = %d, want <= %d", i, n, capacity)
		}
	}
}

func TestInsert_OverCapacityConvergesInOneInsert(t *testing.T) {
	repo, db := newTestRepo(t, 20)
	ctx := context.Background()

	// 23 rows, as a crash before pruning could leave behind.
	for i := 1; i <= 23; i++ {
		r := reading(i)
		if _, err := db.Exec(`INSERT INTO sensor_data (id, timestamp, temperature, humidity) VALUES (?, ?, ?, ?)`,
			strconv.Itoa(i), r.Timestamp, r.Temperature, r.Humidity); err != nil {
			t.Fatalf("seed row %d: %v", i, err)
		}
	}
	if n := mustCount(t, repo); n != 23 {
		t.Fatalf("seeded Count = %d, want 23", n)
	}

	got, err := repo.Insert(ctx, reading(24))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got.ID != "24" {
		t.Errorf("new ID = %q, want 24", got.ID)
	}
	if n := mustCount(t, repo); n != 20 {
		t.Fatalf("Count = %d, want exactly 20", n)
	}
	window, err := repo.Last(ctx, 20)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if window[0].ID != "5" || window[19].ID != "24" {
		t.Fatalf("window = %s..%s, want 5..24", window[0].ID, window[19].ID)
	}
}

func TestInsert_InvariantViolationRollsBack(t *testing.T) {
	repo, db := newTestRepo(t, 2)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		if _, err := repo.Insert(ctx, reading(i)); err != nil {
			t.Fatalf("Insert #%d: %v", i, err)
		}
	}
	// Every eviction resurrects the row, so prune can never restore capacity.
	if _, err := db.Exec(`
		CREATE TRIGGER resurrect AFTER DELETE ON sensor_data
		BEGIN
			INSERT INTO sensor_data (id, timestamp, temperature, humidity)
			VALUES (old.id || '-again', old.timestamp, old.temperature, old.humidity);
		END;
	`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	_, err := repo.Insert(ctx, reading(3))
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("Insert error = %v, want ErrInvariantViolation", err)
	}
	var iv *InvariantViolationError
	if !errors.As(err, &iv) || iv.Capacity != 2 || iv.Count != 3 {
		t.Fatalf("error = %#v, want count 3 capacity 2", err)
	}
	if n := mustCount(t, repo); n != 2 {
		t.Fatalf("Count after rollback = %d, want 2", n)
	}
	latest, ok, err := repo.Latest(ctx)
	if err != nil || !ok {
		t.Fatalf("Latest: ok=%v err=%v", ok, err)
	}
	if latest.ID != "2" {
		t.Fatalf("Latest.ID = %q, want 2 (rejected insert must not be visible)", latest.ID)
	}
}

func TestInsert_WriteErrorOnMissingTable(t *testing.T) {
	repo, db := newTestRepo(t, 20)
	if _, err := db.Exec(`DROP TABLE sensor_data`); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	_, err := repo.Insert(context.Background(), reading(1))
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("Insert error = %v, want *WriteError", err)
	}
	if we.Op != "insert" {
		t.Errorf("WriteError.Op = %q, want insert", we.Op)
	}
	if errors.Is(err, ErrInvariantViolation) {
		t.Error("write error must not match ErrInvariantViolation")
	}
}

func TestLast_AscendingRegardlessOfPhysicalOrder(t *testing.T) {
	repo, db := newTestRepo(t, 20)

	// Physical insertion order 3, 1, 2 with explicit arrival sequence.
	for _, seq := range []int{3, 1, 2} {
		if _, err := db.Exec(`INSERT INTO sensor_data (seq, id, timestamp, temperature, humidity) VALUES (?, ?, ?, ?, ?)`,
			seq, "r"+strconv.Itoa(seq), reading(seq).Timestamp, 20.0, 40.0); err != nil {
			t.Fatalf("seed seq %d: %v", seq, err)
		}
	}

	window, err := repo.Last(context.Background(), 3)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	got := make([]string, 0, len(window))
	for _, r := range window {
		got = append(got, r.ID)
	}
	if fmt.Sprint(got) != "[r1 r2 r3]" {
		t.Fatalf("Last order = %v, want [r1 r2 r3]", got)
	}
}

func TestLast_Length(t *testing.T) {
	repo, _ := newTestRepo(t, 20)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		if _, err := repo.Insert(ctx, reading(i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	tests := []struct {
		n       int
		wantLen int
		wantIDs string
	}{
		{n: 0, wantLen: 0},
		{n: -1, wantLen: 0},
		{n: 2, wantLen: 2, wantIDs: "4,5"},
		{n: 5, wantLen: 5},
		{n: 50, wantLen: 5},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.n), func(t *testing.T) {
			got, err := repo.Last(ctx, tt.n)
			if err != nil {
				t.Fatalf("Last(%d): %v", tt.n, err)
			}
			if got == nil {
				t.Fatalf("Last(%d) = nil, want empty slice", tt.n)
			}
			if len(got) != tt.wantLen {
				t.Fatalf("Last(%d) len = %d, want %d", tt.n, len(got), tt.wantLen)
			}
			if tt.wantIDs != "" && got[0].ID+","+got[1].ID != tt.wantIDs {
				t.Errorf("Last(%d) ids = %s,%s, want %s", tt.n, got[0].ID, got[1].ID, tt.wantIDs)
			}
		})
	}
}

func TestLatest(t *testing.T) {
	repo, _ := newTestRepo(t, 20)
	ctx := context.Background()

	_, ok, err := repo.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest on empty store: %v", err)
	}
	if ok {
		t.Fatal("Latest on empty store: ok = true, want false")
	}

	for i := 1; i <= 3; i++ {
		if _, err := repo.Insert(ctx, reading(i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	latest, ok, err := repo.Latest(ctx)
	if err != nil || !ok {
		t.Fatalf("Latest: ok=%v err=%v", ok, err)
	}
	want := reading(3)
	want.ID = "3"
	if latest != want {
		t.Fatalf("Latest = %+v, want %+v", latest, want)
	}
}
