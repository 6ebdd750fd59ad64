package stations

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ngmaloney/isd-lite/internal/isdlite"
	"github.com/ngmaloney/isd-lite/internal/ncei"
)

const historySample = `Integrated Surface Database Station History, November 2023

USAF = Air Force station ID. May contain a letter in the first position.
WBAN = NCDC WBAN number

USAF   WBAN  STATION NAME                  CTRY ST CALL  LAT     LON      ELEV(M) BEGIN    END

007018 99999 WXPOD 7018                                  +00.000 +000.000 +7018.0 20110309 20130730
010010 99999 JAN MAYEN(NOR-NAVY)           NO      ENJA  +70.917 -008.667 +0009.0 19310101 20231103
720099 99999 BOGUS AMERICAN                US           +36.000 -095.000 +0200.0 19730101 19731231
724666 93067 DENVER CENTENNIAL AIRPORT     US   CO KAPA  +39.570 -104.849 +1793.1 20050101 20231104
725650 03017 DENVER INTERNATIONAL AIRPORT  US   CO KDEN  +39.833 -104.658 +1650.2 19940718 20231104
911820 22521 HONOLULU INTERNATIONAL AIRPOR US   HI PHNL  +21.324 -157.929 +0002.1 19450101 20231104
999999 00001 NO LOCATION                   US
726130 99999 MOUNT WASHINGTON              US   NH KMWN  +44.267 -071.300         19730101
`

func TestParse_History(t *testing.T) {
	c, err := Parse(strings.NewReader(historySample), nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// WXPOD (0,0), BOGUS and NO LOCATION are rejected
	if c.Len() != 5 {
		t.Fatalf("got %d stations, want 5: %+v", c.Len(), c.IDs())
	}

	den, ok := c.Lookup("725650", "03017")
	if !ok {
		t.Fatal("Denver International not found")
	}
	if den.Name != "DENVER INTERNATIONAL AIRPORT" || den.Country != "US" || den.State != "CO" || den.Call != "KDEN" {
		t.Errorf("parsed %+v", den)
	}
	if den.Latitude != 39.833 || den.Longitude != -104.658 {
		t.Errorf("location = %v,%v", den.Latitude, den.Longitude)
	}
	if den.Elevation != isdlite.Some(1650.2) {
		t.Errorf("elevation = %+v", den.Elevation)
	}
	if want := time.Date(1994, 7, 18, 0, 0, 0, 0, time.UTC); !den.Begin.Equal(want) {
		t.Errorf("Begin = %v, want %v", den.Begin, want)
	}
	if den.ID() != "725650-03017" {
		t.Errorf("ID() = %s", den.ID())
	}

	mw, ok := c.Lookup("726130", "99999")
	if !ok {
		t.Fatal("Mount Washington not found")
	}
	if mw.Elevation.Valid || !mw.End.IsZero() {
		t.Errorf("blank fields should be unknown: %+v", mw)
	}
}

func TestParse_NoHeader(t *testing.T) {
	line := "725650 03017 DENVER INTERNATIONAL AIRPORT  US   CO KDEN  +39.833 -104.658 +1650.2 19940718 20231104"
	c, err := Parse(strings.NewReader(line+"\n"), nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("got %d stations, want 1", c.Len())
	}
}

func TestSave_RoundTrip(t *testing.T) {
	c, err := Parse(strings.NewReader(historySample), nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "co.2020-2021.txt")
	if err := c.Save("Stations of Colorado", path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	back, err := FromFile(path, nil)
	if err != nil {
		t.Fatalf("FromFile() error = %v", err)
	}

	want, got := c.Stations(), back.Stations()
	if len(got) != len(want) {
		t.Fatalf("got %d stations back, want %d", len(got), len(want))
	}
	for i := range want {
		w, g := want[i], got[i]
		if g.Key() != w.Key() || g.Name != w.Name || g.Country != w.Country || g.State != w.State || g.Call != w.Call {
			t.Errorf("station %d = %+v, want %+v", i, g, w)
		}
		if g.Latitude != w.Latitude || g.Longitude != w.Longitude || g.Elevation != w.Elevation {
			t.Errorf("station %d location = %v %v %+v, want %v %v %+v", i, g.Latitude, g.Longitude, g.Elevation, w.Latitude, w.Longitude, w.Elevation)
		}
		if !g.Begin.Equal(w.Begin) || !g.End.Equal(w.End) {
			t.Errorf("station %d period = %v..%v, want %v..%v", i, g.Begin, g.End, w.Begin, w.End)
		}
	}
}

func TestFormatHistoryLine(t *testing.T) {
	s := Station{
		USAF: "725650", WBAN: "03017", Name: "DENVER INTERNATIONAL AIRPORT",
		Country: "US", State: "CO", Call: "KDEN",
		Latitude: 39.833, Longitude: -104.658, Elevation: isdlite.Some(1650.2),
		Begin: time.Date(1994, 7, 18, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2023, 11, 4, 0, 0, 0, 0, time.UTC),
	}
	want := "725650 03017 DENVER INTERNATIONAL AIRPORT  US   CO KDEN  +39.833 -104.658 +1650.2 19940718 20231104"
	if got := formatHistoryLine(s); got != want {
		t.Errorf("formatHistoryLine() =\n%q\nwant\n%q", got, want)
	}
}

func TestFromRemote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"history-1"`)
		io.WriteString(w, historySample)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), ncei.HistoryFileName)
	cfg := ncei.DefaultFetcherConfig()
	cfg.MaxRetries = 0
	f := ncei.NewFetcher(server.Client(), nil, cfg, nil)
	c, err := FromRemote(context.Background(), f, server.URL+"/isd-history.txt", dest, nil)
	if err != nil {
		t.Fatalf("FromRemote() error = %v", err)
	}
	if c.Len() != 5 {
		t.Errorf("got %d stations, want 5", c.Len())
	}

	// with the server gone the cached copy is used
	server.Close()
	c, err = FromRemote(context.Background(), f, server.URL+"/isd-history.txt", dest, nil)
	if err != nil {
		t.Fatalf("FromRemote() with cached copy error = %v", err)
	}
	if c.Len() != 5 {
		t.Errorf("got %d stations from cache, want 5", c.Len())
	}
}
