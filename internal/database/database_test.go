package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ngmaloney/isd-lite/internal/ncei"
)

// compile-time check that the sqlite store plugs into the fetcher
var _ ncei.ValidatorStore = (*ValidatorStore)(nil)

func TestDBPath(t *testing.T) {
	expected := filepath.Join("data", "isd-lite-cache.db")
	if got := DBPath("data"); got != expected {
		t.Errorf("DBPath() = %v, want %v", got, expected)
	}
}

func TestValidatorStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "cache.db")
	s, err := OpenValidatorStore(dbPath)
	if err != nil {
		t.Fatalf("OpenValidatorStore() error = %v", err)
	}
	defer s.Close()

	if _, ok, err := s.Get("data/a.gz"); ok || err != nil {
		t.Fatalf("Get() on empty store = %v, %v", ok, err)
	}
	if err := s.Put("data/a.gz", `"abc123"`); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put("data/a.gz", `"def456"`); err != nil {
		t.Fatalf("second Put() error = %v", err)
	}
	tok, ok, err := s.Get("./data/a.gz")
	if err != nil || !ok || tok != `"def456"` {
		t.Errorf("Get() = %q, %v, %v; want def456", tok, ok, err)
	}
	if n, _ := s.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}

	if err := s.Delete("data/a.gz"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := s.Get("data/a.gz"); ok {
		t.Error("entry survived Delete()")
	}
}

func TestValidatorStore_Prune(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenValidatorStore(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatalf("OpenValidatorStore() error = %v", err)
	}
	defer s.Close()

	kept := filepath.Join(dir, "725650-03017-2020.gz")
	if err := os.WriteFile(kept, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	s.Put(kept, `"a"`)
	s.Put(filepath.Join(dir, "gone-2020.gz"), `"b"`)

	n, err := s.Prune()
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() removed %d, want 1", n)
	}
	if tok, ok, _ := s.Get(kept); !ok || tok != `"a"` {
		t.Errorf("entry for existing file lost: %q, %v", tok, ok)
	}
	if n, _ := s.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

func TestValidatorStore_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")

	s, err := OpenValidatorStore(dbPath)
	if err != nil {
		t.Fatalf("OpenValidatorStore() error = %v", err)
	}
	if err := s.Put("/data/x.gz", "tok"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	s.Close()

	// reopening must not drop the table
	s, err = OpenValidatorStore(dbPath)
	if err != nil {
		t.Fatalf("second OpenValidatorStore() error = %v", err)
	}
	defer s.Close()
	if tok, ok, _ := s.Get("/data/x.gz"); !ok || tok != "tok" {
		t.Errorf("Get() after reopen = %q, %v", tok, ok)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='cache_entries'").Scan(&count); err != nil {
		t.Fatalf("querying schema: %v", err)
	}
	if count != 1 {
		t.Errorf("cache_entries table count = %d, want 1", count)
	}
}

func TestValidatorStore_ConcurrentPut(t *testing.T) {
	s, err := OpenValidatorStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenValidatorStore() error = %v", err)
	}
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Put(fmt.Sprintf("/data/%d.gz", i), fmt.Sprint(i)); err != nil {
				t.Errorf("Put(%d) error = %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	if n, _ := s.Len(); n != 16 {
		t.Errorf("Len() = %d, want 16", n)
	}
}

func TestValidatorStore_WithFetcher(t *testing.T) {
	var gets atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc123"`)
		if r.Method == http.MethodGet {
			gets.Add(1)
			io.WriteString(w, "payload")
		}
	}))
	defer server.Close()

	dir := t.TempDir()
	s, err := OpenValidatorStore(DBPath(dir))
	if err != nil {
		t.Fatalf("OpenValidatorStore() error = %v", err)
	}
	defer s.Close()

	f := ncei.NewFetcher(server.Client(), s, ncei.DefaultFetcherConfig(), nil)
	dest := filepath.Join(dir, "725650-03017-2020.gz")
	for i := 0; i < 2; i++ {
		if _, err := f.Fetch(context.Background(), server.URL+"/2020/725650-03017-2020.gz", dest, false); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
	}
	if got := gets.Load(); got != 1 {
		t.Errorf("server saw %d GETs, want 1", got)
	}
	if _, err := os.Stat(ncei.SideFileName(dest)); !os.IsNotExist(err) {
		t.Error("sqlite store should not write side files")
	}
}
