package ncei

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_IsolatesFailuresAndBoundsConcurrency(t *testing.T) {
	var inflight, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)

		if r.URL.Path == "/item-5" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("ETag", `"`+r.URL.Path+`"`)
		io.WriteString(w, "data for "+r.URL.Path)
	}))
	defer server.Close()

	dir := t.TempDir()
	items := make([]Item, 10)
	for i := range items {
		items[i] = Item{
			URL:  fmt.Sprintf("%s/item-%d", server.URL, i),
			Dest: filepath.Join(dir, fmt.Sprintf("item-%d", i)),
		}
	}

	o := NewOrchestrator(NewFetcher(server.Client(), nil, testConfig(), nil), nil)
	progress := make(chan Progress, len(items))
	report, err := o.Run(context.Background(), items, Options{Jobs: 3, Progress: progress})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	close(progress)

	if len(report.Outcomes) != 10 {
		t.Fatalf("got %d outcomes, want 10", len(report.Outcomes))
	}
	for i, out := range report.Outcomes {
		if out.Item != items[i] {
			t.Errorf("outcome %d is for %v, want %v", i, out.Item, items[i])
		}
		if i == 5 {
			if !errors.Is(out.Err, ErrNotFound) {
				t.Errorf("item 5 error = %v, want ErrNotFound", out.Err)
			}
			continue
		}
		if out.Err != nil {
			t.Errorf("item %d error = %v", i, out.Err)
		}
		if _, err := os.Stat(items[i].Dest); err != nil {
			t.Errorf("item %d not on disk: %v", i, err)
		}
	}
	if len(report.Failed()) != 1 || len(report.Succeeded()) != 9 {
		t.Errorf("failed=%d succeeded=%d, want 1 and 9", len(report.Failed()), len(report.Succeeded()))
	}
	if !errors.Is(report.Err(), ErrNotFound) {
		t.Errorf("report.Err() = %v, want ErrNotFound", report.Err())
	}
	if p := peak.Load(); p > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", p)
	}

	count, last := 0, 0
	for p := range progress {
		count++
		last = p.Done
		if p.Total != 10 {
			t.Errorf("progress total = %d, want 10", p.Total)
		}
	}
	if count != 10 || last != 10 {
		t.Errorf("got %d progress messages ending at %d, want 10 and 10", count, last)
	}
}

func TestRun_SecondRunTransfersNothing(t *testing.T) {
	a := newArchive()
	for i := 0; i < 4; i++ {
		a.put(fmt.Sprintf("/f%d.gz", i), "x", `"abc123"`)
	}
	server := httptest.NewServer(a)
	defer server.Close()

	dir := t.TempDir()
	var items []Item
	for i := 0; i < 4; i++ {
		items = append(items, Item{URL: fmt.Sprintf("%s/f%d.gz", server.URL, i), Dest: filepath.Join(dir, fmt.Sprintf("f%d.gz", i))})
	}

	o := NewOrchestrator(NewFetcher(server.Client(), nil, testConfig(), nil), nil)
	first, err := o.Run(context.Background(), items, Options{Jobs: 2})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(first.Transferred()) != 4 {
		t.Errorf("first run transferred %d, want 4", len(first.Transferred()))
	}

	second, err := o.Run(context.Background(), items, Options{Jobs: 2})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(second.Transferred()) != 0 || second.Err() != nil {
		t.Errorf("second run transferred %d, err %v", len(second.Transferred()), second.Err())
	}
	if got := a.gets.Load(); got != 4 {
		t.Errorf("server saw %d GETs, want 4", got)
	}
}

func TestRun_ProbeOnly(t *testing.T) {
	a := newArchive()
	a.put("/2020/a.gz", "x", `"1"`)
	server := httptest.NewServer(a)
	defer server.Close()

	dir := t.TempDir()
	items := []Item{
		{URL: server.URL + "/2020/a.gz", Dest: filepath.Join(dir, "a.gz")},
		{URL: server.URL + "/2020/b.gz"},
	}
	o := NewOrchestrator(NewFetcher(server.Client(), nil, testConfig(), nil), nil)
	report, err := o.Run(context.Background(), items, Options{Jobs: 2, Mode: ProbeOnly})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Outcomes[0].Err != nil || report.Outcomes[0].Result.ETag != `"1"` {
		t.Errorf("outcome 0 = %+v", report.Outcomes[0])
	}
	if !errors.Is(report.Outcomes[1].Err, ErrNotFound) {
		t.Errorf("outcome 1 error = %v, want ErrNotFound", report.Outcomes[1].Err)
	}
	if a.gets.Load() != 0 {
		t.Error("probe mode issued a GET")
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("probe mode wrote %d files", len(entries))
	}
}

func TestRun_RejectsMalformedBatch(t *testing.T) {
	a := newArchive()
	server := httptest.NewServer(a)
	defer server.Close()
	o := NewOrchestrator(NewFetcher(server.Client(), nil, testConfig(), nil), nil)

	dest := filepath.Join(t.TempDir(), "same.gz")
	tests := []struct {
		name  string
		items []Item
		want  error
	}{
		{"duplicate destination", []Item{{URL: server.URL + "/a", Dest: dest}, {URL: server.URL + "/b", Dest: dest}}, ErrDuplicateDestination},
		{"missing url", []Item{{Dest: dest}}, ErrInvalidItem},
		{"missing destination", []Item{{URL: server.URL + "/a"}}, ErrInvalidItem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := o.Run(context.Background(), tt.items, Options{Jobs: 2}); !errors.Is(err, tt.want) {
				t.Errorf("Run() error = %v, want %v", err, tt.want)
			}
		})
	}
	if a.heads.Load()+a.gets.Load() != 0 {
		t.Error("malformed batch reached the server")
	}
}

func TestRun_CancellationStopsDispatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("ETag", `"x"`)
		io.WriteString(w, "x")
	}))
	defer server.Close()

	dir := t.TempDir()
	var items []Item
	for i := 0; i < 6; i++ {
		items = append(items, Item{URL: fmt.Sprintf("%s/%d", server.URL, i), Dest: filepath.Join(dir, fmt.Sprint(i))})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	progress := make(chan Progress)
	go func() {
		first := true
		for range progress {
			if first {
				cancel()
				first = false
			}
		}
	}()

	o := NewOrchestrator(NewFetcher(server.Client(), nil, testConfig(), nil), nil)
	report, err := o.Run(ctx, items, Options{Jobs: 1, Progress: progress})
	close(progress)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Outcomes[0].Err != nil {
		t.Errorf("first item error = %v", report.Outcomes[0].Err)
	}
	if !errors.Is(report.Outcomes[5].Err, context.Canceled) {
		t.Errorf("last item error = %v, want context.Canceled", report.Outcomes[5].Err)
	}
	for i, out := range report.Outcomes {
		if out.Err != nil && !errors.Is(out.Err, context.Canceled) {
			t.Errorf("item %d error = %v", i, out.Err)
		}
	}
}

func TestDataItems(t *testing.T) {
	ids := []StationID{{USAF: "725650", WBAN: "03017"}, {USAF: "724666", WBAN: "93067"}}
	items := DataItems(DefaultBaseURL+"/", "/data", ids, 2019, 2020)
	if len(items) != 4 {
		t.Fatalf("got %d items, want 4", len(items))
	}
	want := Item{
		URL:  "https://www.ncei.noaa.gov/pub/data/noaa/isd-lite/2020/725650-03017-2020.gz",
		Dest: filepath.Join("/data", "725650-03017-2020.gz"),
	}
	if items[1] != want {
		t.Errorf("items[1] = %+v, want %+v", items[1], want)
	}
	if items[2].Dest != filepath.Join("/data", "724666-93067-2019.gz") {
		t.Errorf("items[2].Dest = %s", items[2].Dest)
	}
}
