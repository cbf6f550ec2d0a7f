package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"strategylab/internal/domain"
)

// ErrMalformedCSV is returned when a bar CSV lacks a required column or has
// no usable rows.
var ErrMalformedCSV = errors.New("malformed bar csv")

var csvDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05-07:00",
	time.RFC3339,
	"01/02/2006",
}

// LoadCSV reads daily bars for symbol from a CSV file. See ParseCSV.
func LoadCSV(path, symbol string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bars, err := ParseCSV(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// ParseCSV reads daily bars in the Date,Open,High,Low,Close[,Adj Close],Volume
// layout. Columns are matched by header name, case-insensitively, and a
// leading byte-order mark (UTF-8 or UTF-16) is honored. Rows with missing or
// "null" prices are skipped. The result is sorted by date with duplicate
// dates collapsed to the last occurrence.
func ParseCSV(r io.Reader, symbol string) ([]domain.Bar, error) {
	dec := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	cr := csv.NewReader(dec)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrMalformedCSV, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idx := func(name string) (int, error) {
		i, ok := cols[name]
		if !ok {
			return 0, fmt.Errorf("%w: missing %q column", ErrMalformedCSV, name)
		}
		return i, nil
	}

	var iDate, iOpen, iHigh, iLow, iClose int
	for name, dst := range map[string]*int{
		"date": &iDate, "open": &iOpen, "high": &iHigh, "low": &iLow, "close": &iClose,
	} {
		if *dst, err = idx(name); err != nil {
			return nil, err
		}
	}
	iVol, hasVol := cols["volume"]

	byDay := make(map[int64]domain.Bar)
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedCSV, line, err)
		}

		ts, err := parseCSVDate(field(rec, iDate))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedCSV, line, err)
		}
		o, ok1 := parsePrice(field(rec, iOpen))
		h, ok2 := parsePrice(field(rec, iHigh))
		l, ok3 := parsePrice(field(rec, iLow))
		c, ok4 := parsePrice(field(rec, iClose))
		if !(ok1 && ok2 && ok3 && ok4) {
			continue
		}
		var vol int64
		if hasVol {
			if v, ok := parsePrice(field(rec, iVol)); ok {
				vol = int64(v)
			}
		}

		byDay[ts.Unix()] = domain.Bar{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: ts,
			Open:      o,
			High:      h,
			Low:       l,
			Close:     c,
			Volume:    vol,
		}
	}
	if len(byDay) == 0 {
		return nil, fmt.Errorf("%w: no bars", ErrMalformedCSV)
	}

	bars := make([]domain.Bar, 0, len(byDay))
	for _, b := range byDay {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// parseCSVDate parses the supported layouts and truncates to the UTC
// calendar day.
func parseCSVDate(s string) (time.Time, error) {
	for _, layout := range csvDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parsePrice(s string) (float64, bool) {
	if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "nan") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
