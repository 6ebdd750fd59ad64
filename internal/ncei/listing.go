package ncei

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// maxIndexSize bounds the size of a year directory page.
const maxIndexSize = 64 << 20

// ListYear returns the stations with a data file in the archive directory of
// the given year, in page order.
func (f *Fetcher) ListYear(ctx context.Context, baseURL string, year int) ([]StationID, error) {
	url := fmt.Sprintf("%s/%d/", strings.TrimRight(baseURL, "/"), year)

	var ids []StationID
	err := f.retry(ctx, url, func(actx context.Context) error {
		req, err := f.newRequest(actx, http.MethodGet, url)
		if err != nil {
			return err
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &StatusError{Method: http.MethodGet, URL: url, Code: resp.StatusCode}
		}
		ids, err = parseIndex(io.LimitReader(resp.Body, maxIndexSize), year)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing %d: %w", year, err)
	}

	f.logger.Debug("Listed archive year", zap.Int("year", year), zap.Int("files", len(ids)))
	return ids, nil
}

// parseIndex collects the station ids of every link to a data file of year.
func parseIndex(r io.Reader, year int) ([]StationID, error) {
	suffix := fmt.Sprintf("-%d.gz", year)
	seen := make(map[StationID]bool)
	var ids []StationID

	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return ids, nil
			}
			return nil, z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, more := z.TagName()
			if string(name) != "a" {
				continue
			}
			for more {
				var key, val []byte
				key, val, more = z.TagAttr()
				if string(key) != "href" {
					continue
				}
				id, ok := parseDataFileName(path.Base(string(val)), suffix)
				if ok && !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
	}
}

// parseDataFileName splits "USAF-WBAN<suffix>" into a station id.
func parseDataFileName(name, suffix string) (StationID, bool) {
	stem, ok := strings.CutSuffix(name, suffix)
	if !ok {
		return StationID{}, false
	}
	usaf, wban, ok := strings.Cut(stem, "-")
	if !ok || len(usaf) != 6 || len(wban) != 5 {
		return StationID{}, false
	}
	return StationID{USAF: usaf, WBAN: wban}, true
}
