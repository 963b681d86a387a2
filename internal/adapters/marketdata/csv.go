package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/ictbot/internal/domain"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006.01.02 15:04",
	"2006-01-02",
}

// CSVSource implementa ports.BarSource sobre archivos CSV locales, uno por
// símbolo. Cada archivo se resamplea al timeframe pedido.
type CSVSource struct {
	files  map[string]string
	native domain.Timeframe
}

// NewCSVSource crea la fuente. files mapea símbolo → ruta; native es el
// timeframe en el que están escritos los archivos.
func NewCSVSource(files map[string]string, native domain.Timeframe) *CSVSource {
	return &CSVSource{files: files, native: native}
}

// FetchBars lee el archivo del símbolo, lo resamplea y recorta a [From, To].
func (c *CSVSource) FetchBars(ctx context.Context, req domain.BarRequest) (domain.Series, error) {
	path, ok := c.files[req.Symbol]
	if !ok {
		return domain.Series{}, fmt.Errorf("csv.FetchBars: no file configured for %q", req.Symbol)
	}
	if err := ctx.Err(); err != nil {
		return domain.Series{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return domain.Series{}, fmt.Errorf("csv.FetchBars: open %q: %w", path, err)
	}
	defer f.Close()

	s, err := ReadCSV(f, req.Symbol, c.native)
	if err != nil {
		return domain.Series{}, fmt.Errorf("csv.FetchBars %q: %w", path, err)
	}
	if req.Timeframe != "" && req.Timeframe != c.native {
		if s, err = s.Resample(req.Timeframe); err != nil {
			return domain.Series{}, fmt.Errorf("csv.FetchBars: %w", err)
		}
	}
	return clip(s, req.From, req.To), nil
}

// ReadCSV parsea un CSV con encabezado. Los nombres de columna no distinguen
// mayúsculas; el tiempo sale de "time", "date", "datetime" o "timestamp"
// (texto o epoch en segundos). volume es opcional. La serie se valida antes
// de devolverla.
func ReadCSV(r io.Reader, symbol string, tf domain.Timeframe) (domain.Series, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return domain.Series{}, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}

	timeCol := -1
	for _, name := range []string{"time", "date", "datetime", "timestamp"} {
		if i, ok := col[name]; ok {
			timeCol = i
			break
		}
	}
	if timeCol < 0 {
		return domain.Series{}, fmt.Errorf("no time/date column in header %v", header)
	}
	idx := make(map[string]int, 4)
	for _, name := range []string{"open", "high", "low", "close"} {
		i, ok := col[name]
		if !ok {
			return domain.Series{}, fmt.Errorf("missing %q column", name)
		}
		idx[name] = i
	}
	volCol, hasVol := col["volume"]

	s := domain.Series{Symbol: symbol, Timeframe: tf}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Series{}, fmt.Errorf("line %d: %w", line, err)
		}

		t, err := parseTime(rec[timeCol])
		if err != nil {
			return domain.Series{}, fmt.Errorf("%w: line %d: %v", domain.ErrMalformedSeries, line, err)
		}
		var vals [4]float64
		for k, name := range []string{"open", "high", "low", "close"} {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[idx[name]]), 64)
			if err != nil {
				return domain.Series{}, fmt.Errorf("%w: line %d: %s: %v", domain.ErrMalformedSeries, line, name, err)
			}
			vals[k] = v
		}
		b := domain.Bar{Time: t, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3]}
		if hasVol {
			b.Volume, _ = strconv.ParseFloat(strings.TrimSpace(rec[volCol]), 64)
		}
		s.Bars = append(s.Bars, b)
	}

	if err := s.Validate(); err != nil {
		return domain.Series{}, err
	}
	return s, nil
}

func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}

func clip(s domain.Series, from, to time.Time) domain.Series {
	lo, hi := 0, s.Len()
	if !from.IsZero() {
		for lo < hi && s.Bars[lo].Time.Before(from) {
			lo++
		}
	}
	if !to.IsZero() {
		hi = s.IndexAfter(to)
	}
	if lo > hi {
		lo = hi
	}
	return s.Slice(lo, hi)
}
