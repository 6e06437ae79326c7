// Package marketdata loads broker OHLCV series from the master data tree and
// serves them as frames. Files are immutable inputs; the service never writes.
package marketdata

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kitealert7-source/tradescan/internal/directive"
	"github.com/kitealert7-source/tradescan/internal/logger"
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// Service resolves (symbol, broker, timeframe) to a bar frame.
type Service interface {
	Load(symbol, broker, timeframe string, dates directive.DateRange) (*types.Frame, error)
}

type cacheKey struct {
	symbol    string
	broker    string
	timeframe string
}

type cacheEntry struct {
	key  cacheKey
	bars []types.Bar
}

// FileService reads comment-prefixed CSV files laid out as
// MASTER_DATA/<broker>/<timeframe>/<symbol>/<symbol>_<year>.csv and
// concatenates the per-year files in year order. Loaded series are kept in a
// small LRU so the orchestrator can re-request the same symbol across stages
// without re-parsing.
type FileService struct {
	root     string
	log      *logger.Logger
	capacity int
	cache    []cacheEntry
}

// NewFileService creates a service rooted at the master data directory.
func NewFileService(root string, log *logger.Logger) *FileService {
	return &FileService{
		root:     root,
		log:      log,
		capacity: 8,
		cache:    nil,
	}
}

// Load returns the bar frame for the requested scope, restricted to the date
// range (inclusive on both ends). Missing data is a hard failure.
func (s *FileService) Load(symbol, broker, timeframe string, dates directive.DateRange) (*types.Frame, error) {
	bars, err := s.series(symbol, broker, timeframe)
	if err != nil {
		return nil, err
	}

	from, err := time.Parse("2006-01-02", dates.From)
	if err != nil {
		return nil, errors.Wrap(errors.KindDataMissing, symbol, "invalid range start", err)
	}

	to, err := time.Parse("2006-01-02", dates.To)
	if err != nil {
		return nil, errors.Wrap(errors.KindDataMissing, symbol, "invalid range end", err)
	}

	// The range end is a calendar date; include every bar of that day.
	to = to.Add(24*time.Hour - time.Nanosecond)

	var window []types.Bar

	for _, b := range bars {
		if b.Time.Before(from) || b.Time.After(to) {
			continue
		}

		window = append(window, b)
	}

	if len(window) == 0 {
		return nil, errors.Newf(errors.KindDataMissing, symbol,
			"no %s bars for %s/%s in %s..%s", timeframe, broker, symbol, dates.From, dates.To)
	}

	return types.NewFrame(window)
}

func (s *FileService) series(symbol, broker, timeframe string) ([]types.Bar, error) {
	key := cacheKey{symbol: symbol, broker: broker, timeframe: timeframe}

	for i, entry := range s.cache {
		if entry.key == key {
			// Move to front.
			s.cache = append([]cacheEntry{entry}, append(s.cache[:i], s.cache[i+1:]...)...)

			return entry.bars, nil
		}
	}

	bars, err := s.read(symbol, broker, timeframe)
	if err != nil {
		return nil, err
	}

	s.cache = append([]cacheEntry{{key: key, bars: bars}}, s.cache...)
	if len(s.cache) > s.capacity {
		s.cache = s.cache[:s.capacity]
	}

	return bars, nil
}

func (s *FileService) read(symbol, broker, timeframe string) ([]types.Bar, error) {
	dir := filepath.Join(s.root, broker, timeframe, symbol)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(errors.KindDataMissing, symbol, err,
			"no market data directory for %s/%s/%s", broker, timeframe, symbol)
	}

	var files []string

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}

		files = append(files, e.Name())
	}

	if len(files) == 0 {
		return nil, errors.Newf(errors.KindDataMissing, symbol,
			"no CSV files under %s", dir)
	}

	// Yearly files sort lexicographically into chronological order.
	sort.Strings(files)

	var (
		bars []types.Bar
		seen = make(map[int64]struct{})
	)

	for _, name := range files {
		fileBars, err := s.readFile(filepath.Join(dir, name), symbol)
		if err != nil {
			return nil, err
		}

		// Year boundaries can overlap by a bar; keep the first occurrence.
		for _, b := range fileBars {
			ts := b.Time.UnixNano()
			if _, dup := seen[ts]; dup {
				continue
			}

			seen[ts] = struct{}{}
			bars = append(bars, b)
		}
	}

	s.log.Debug("market data loaded",
		zap.String("symbol", symbol),
		zap.String("broker", broker),
		zap.String("timeframe", timeframe),
		zap.Int("files", len(files)),
		zap.Int("bars", len(bars)))

	return bars, nil
}

func (s *FileService) readFile(path, symbol string) ([]types.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindDataMissing, symbol, "cannot open data file", err)
	}
	defer f.Close()

	var bars []types.Bar

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(strings.ToLower(line), "time,") {
			continue
		}

		bar, err := parseLine(line)
		if err != nil {
			return nil, errors.Wrapf(errors.KindDataMissing, symbol, err,
				"%s:%d does not parse", filepath.Base(path), lineNo)
		}

		bars = append(bars, bar)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(errors.KindDataMissing, symbol, "cannot scan data file", err)
	}

	return bars, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseLine(line string) (types.Bar, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 5 {
		return types.Bar{}, errors.Newf(errors.KindDataMissing, "csv",
			"expected at least 5 fields, got %d", len(fields))
	}

	var (
		ts  time.Time
		err error
	)

	for _, layout := range timeLayouts {
		ts, err = time.Parse(layout, strings.TrimSpace(fields[0]))
		if err == nil {
			break
		}
	}

	if err != nil {
		return types.Bar{}, errors.Newf(errors.KindDataMissing, "csv",
			"unparseable timestamp %q", fields[0])
	}

	values := make([]float64, 0, 5)

	for _, raw := range fields[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return types.Bar{}, errors.Newf(errors.KindDataMissing, "csv",
				"unparseable value %q", raw)
		}

		values = append(values, v)
		if len(values) == 5 {
			break
		}
	}

	bar := types.Bar{
		Time:  ts.UTC(),
		Open:  values[0],
		High:  values[1],
		Low:   values[2],
		Close: values[3],
	}

	if len(values) > 4 {
		bar.Volume = values[4]
	}

	return bar, nil
}
