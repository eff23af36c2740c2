/*
Copyright 2022

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package twse

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Store owns the on-disk per-stock history. Layout under the root:
//
//	<market_raw>/<code>/<YYYY-MM-DD>.csv  one-day snapshot, written once
//	<market_raw>/<code>/<code>.csv        accumulated history, date-unique,
//	                                      sorted ascending
//
// A snapshot's existence doubles as the idempotency marker for that
// (stock, date). Accumulation rewrites go through a temp file and rename so
// readers never observe a truncated file, and upserts for the same stock
// are serialized by a per-stock lock.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(root string) *Store {
	return &Store{root: root, locks: make(map[string]*sync.Mutex)}
}

func (s *Store) stockDir(market Market, code string) string {
	return filepath.Join(s.root, market.RawDir(), code)
}

func (s *Store) snapshotPath(market Market, code string, date time.Time) string {
	return filepath.Join(s.stockDir(market, code), date.Format("2006-01-02")+".csv")
}

func (s *Store) accumulationPath(market Market, code string) string {
	return filepath.Join(s.stockDir(market, code), code+".csv")
}

func (s *Store) stockLock(market Market, code string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := market.RawDir() + "/" + code
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// SnapshotExists reports whether the given (stock, date) has already been
// ingested on a previous run.
func (s *Store) SnapshotExists(market Market, code string, date time.Time) bool {
	_, err := os.Stat(s.snapshotPath(market, code, date))
	return err == nil
}

// WriteSnapshot materializes one merged row as that day's snapshot file.
// Snapshots are write-once; an existing file is left untouched.
func (s *Store) WriteSnapshot(market Market, code string, date time.Time, row *InstitutionalRow) error {
	fn := s.snapshotPath(market, code, date)
	if _, err := os.Stat(fn); err == nil {
		return nil
	}
	if err := os.MkdirAll(s.stockDir(market, code), 0o755); err != nil {
		return fmt.Errorf("create stock dir: %w", err)
	}
	return os.WriteFile(fn, encodeRows([]*InstitutionalRow{row}), 0o644)
}

// Upsert appends or date-replaces one row in the stock's accumulated
// history. Replaying the same row is a no-op on content; a changed row for
// an existing date overwrites it, which covers upstreams restating
// late-finalized figures.
func (s *Store) Upsert(market Market, code string, row *InstitutionalRow) error {
	lock := s.stockLock(market, code)
	lock.Lock()
	defer lock.Unlock()

	dir := s.stockDir(market, code)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create stock dir: %w", err)
	}

	rows, err := s.readAccumulation(market, code)
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range rows {
		if existing.Date == row.Date {
			rows[i] = row
			replaced = true
			break
		}
	}
	if !replaced {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })

	tmp, err := os.CreateTemp(dir, code+".csv.tmp*")
	if err != nil {
		return fmt.Errorf("create temp accumulation file: %w", err)
	}
	if _, err := tmp.Write(encodeRows(rows)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write accumulation file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close accumulation file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.accumulationPath(market, code)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace accumulation file: %w", err)
	}
	return nil
}

func (s *Store) noTradingPath(market Market, date time.Time) string {
	return filepath.Join(s.root, market.RawDir(), "no_trading", date.Format("2006-01-02"))
}

// MarkNoTrading records that the market had no trading on the given date
// (weekend or holiday), so later runs can skip it without a fetch.
func (s *Store) MarkNoTrading(market Market, date time.Time) error {
	dir := filepath.Dir(s.noTradingPath(market, date))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create no-trading dir: %w", err)
	}
	return os.WriteFile(s.noTradingPath(market, date), nil, 0o644)
}

// IsNoTrading reports whether the date was previously recorded as a
// non-trading day for the market.
func (s *Store) IsNoTrading(market Market, date time.Time) bool {
	_, err := os.Stat(s.noTradingPath(market, date))
	return err == nil
}

// HasDate reports whether the stock's accumulated history contains the
// given date.
func (s *Store) HasDate(market Market, code string, date time.Time) bool {
	return s.AllDates(market, code)[date.Format("2006-01-02")]
}

// AllDates returns the set of dates present in the stock's accumulated
// history.
func (s *Store) AllDates(market Market, code string) map[string]bool {
	rows, err := s.readAccumulation(market, code)
	if err != nil {
		log.Error().Err(err).Str("StockCode", code).Msg("cannot read accumulation file")
		return nil
	}
	dates := make(map[string]bool, len(rows))
	for _, row := range rows {
		dates[row.Date] = true
	}
	return dates
}

func (s *Store) readAccumulation(market Market, code string) ([]*InstitutionalRow, error) {
	raw, err := os.ReadFile(s.accumulationPath(market, code))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read accumulation file: %w", err)
	}
	text, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode accumulation file: %w", err)
	}
	return decodeRows(text)
}

var csvHeader = buildCSVHeader()

func buildCSVHeader() []string {
	header := []string{"date", "stock_code", "stock_name"}
	for _, f := range rowFields {
		header = append(header, f.Name)
	}
	return header
}

// encodeRows renders rows as UTF-8 CSV with a BOM, the format spreadsheet
// tools on Windows expect. Nil fields stay empty cells.
func encodeRows(rows []*InstitutionalRow) []byte {
	var buf bytes.Buffer
	buf.Write(utf8BOM)
	w := csv.NewWriter(&buf)
	w.Write(csvHeader)
	for _, row := range rows {
		record := []string{row.Date, row.StockCode, row.StockName}
		for _, f := range rowFields {
			if v := *f.Get(row); v != nil {
				record = append(record, strconv.FormatInt(*v, 10))
			} else {
				record = append(record, "")
			}
		}
		w.Write(record)
	}
	w.Flush()
	return buf.Bytes()
}

func decodeRows(text string) ([]*InstitutionalRow, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse accumulation file: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	// Columns are resolved by header name so the file survives field
	// reordering across versions.
	cols := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		cols[strings.TrimSpace(name)] = i
	}
	dateIdx, okDate := cols["date"]
	codeIdx, okCode := cols["stock_code"]
	nameIdx, okName := cols["stock_name"]
	if !okDate || !okCode || !okName {
		return nil, fmt.Errorf("accumulation file header missing required columns")
	}

	rows := make([]*InstitutionalRow, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) <= dateIdx || strings.TrimSpace(record[dateIdx]) == "" {
			continue
		}
		row := &InstitutionalRow{Date: record[dateIdx]}
		if codeIdx < len(record) {
			row.StockCode = record[codeIdx]
		}
		if nameIdx < len(record) {
			row.StockName = record[nameIdx]
		}
		for _, f := range rowFields {
			idx, ok := cols[f.Name]
			if !ok || idx >= len(record) || strings.TrimSpace(record[idx]) == "" {
				continue
			}
			v, err := strconv.ParseInt(strings.TrimSpace(record[idx]), 10, 64)
			if err != nil {
				continue
			}
			*f.Get(row) = &v
		}
		rows = append(rows, row)
	}
	return rows, nil
}
