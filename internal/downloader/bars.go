package downloader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tradewise-engine/internal/models"

	"github.com/shopspring/decimal"
)

// LoadBarsCSV reads a kline CSV written by DownloadKlines. Rows must be in
// strictly increasing open_time order.
func LoadBarsCSV(path, symbol string) (*models.BarSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("无法打开K线文件 %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("读取CSV表头失败: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, name := range []string{"open_time", "open", "high", "low", "close", "volume"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", path, name)
		}
	}

	series := &models.BarSeries{Symbol: strings.ToUpper(symbol)}
	line := 1
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		bar, err := parseBar(rec, col)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if n := len(series.Bars); n > 0 && !bar.Time.After(series.Bars[n-1].Time) {
			return nil, fmt.Errorf("%s:%d: bar at %s is not after the previous bar", path, line, bar.Time.Format(time.RFC3339))
		}
		series.Bars = append(series.Bars, bar)
	}
	return series, nil
}

func parseBar(rec []string, col map[string]int) (models.Bar, error) {
	var bar models.Bar
	ms, err := strconv.ParseInt(rec[col["open_time"]], 10, 64)
	if err != nil {
		return bar, fmt.Errorf("invalid open_time: %w", err)
	}
	bar.Time = time.UnixMilli(ms).UTC()

	fields := []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"open", &bar.Open}, {"high", &bar.High}, {"low", &bar.Low}, {"close", &bar.Close}, {"volume", &bar.Volume},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(rec[col[f.name]]); err != nil {
			return bar, fmt.Errorf("invalid %s: %w", f.name, err)
		}
	}
	if !bar.Close.IsPositive() {
		return bar, fmt.Errorf("close must be positive, got %s", bar.Close)
	}
	return bar, nil
}

// CSVProvider serves daily bars from a CSV cache directory, downloading
// missing ranges through the KlineDownloader.
type CSVProvider struct {
	dir        string
	downloader *KlineDownloader
}

// NewCSVProvider creates a bar provider rooted at dir.
func NewCSVProvider(dir string, d *KlineDownloader) *CSVProvider {
	return &CSVProvider{dir: dir, downloader: d}
}

// Path returns the cache file used for a request.
func (p *CSVProvider) Path(symbol string, start, end time.Time) string {
	name := fmt.Sprintf("%s-%s-%s-%s.csv", strings.ToUpper(symbol), DailyInterval, start.Format("20060102"), end.Format("20060102"))
	return filepath.Join(p.dir, name)
}

// Bars returns the daily bars of symbol with open time in [start, end).
func (p *CSVProvider) Bars(ctx context.Context, symbol string, start, end time.Time) (*models.BarSeries, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("invalid range: end %s is not after start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	path := p.Path(symbol, start, end)
	if p.downloader != nil {
		if err := p.downloader.DownloadKlines(ctx, strings.ToUpper(symbol), DailyInterval, path, start, end); err != nil {
			return nil, err
		}
	}
	series, err := LoadBarsCSV(path, symbol)
	if err != nil {
		return nil, err
	}
	bars := series.Bars[:0]
	for _, b := range series.Bars {
		if !b.Time.Before(start) && b.Time.Before(end) {
			bars = append(bars, b)
		}
	}
	series.Bars = bars
	return series, nil
}
