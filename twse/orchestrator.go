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
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// Failure identifies one terminally failed (stock, date) unit so it can be
// re-run by hand.
type Failure struct {
	Unit      FetchUnit
	SubSource SubSource
	Kind      ErrKind
}

// Summary aggregates per-unit outcomes across a run. One unit is one
// (stock, date) of one market.
type Summary struct {
	mu       sync.Mutex
	Written  int
	Skipped  int
	NoData   int
	Failed   int
	Failures []Failure
}

func (s *Summary) addWritten() {
	s.mu.Lock()
	s.Written++
	s.mu.Unlock()
}

func (s *Summary) addSkipped(n int) {
	s.mu.Lock()
	s.Skipped += n
	s.mu.Unlock()
}

func (s *Summary) addNoData(n int) {
	s.mu.Lock()
	s.NoData += n
	s.mu.Unlock()
}

func (s *Summary) addFailure(f Failure) {
	s.mu.Lock()
	s.Failed++
	s.Failures = append(s.Failures, f)
	s.mu.Unlock()
}

// Log writes the end-of-run report. Failures are individually listed so a
// later invocation can target them.
func (s *Summary) Log() {
	log.Info().
		Int("Written", s.Written).
		Int("Skipped", s.Skipped).
		Int("NoData", s.NoData).
		Int("Failed", s.Failed).
		Msg("run complete")
	for _, f := range s.Failures {
		log.Warn().
			Str("StockCode", f.Unit.StockCode).
			Str("Market", string(f.Unit.Market)).
			Str("Date", f.Unit.Date.Format("2006-01-02")).
			Str("SubSource", string(f.SubSource)).
			Str("Kind", f.Kind.String()).
			Msg("unit failed, re-run to retry")
	}
}

// Backfill processes the trailing `days` dates (including today) for every
// tracked security. Days are independent and run on a bounded worker pool;
// one day's or one stock's failure never aborts its siblings. Returns every
// row written during the run for the optional database and parquet sinks.
func Backfill(ctx context.Context, client *Client, store *Store, securities []*Security, days int) ([]*InstitutionalRow, *Summary) {
	if days < 1 {
		days = 1
	}
	workers := viper.GetInt("workers")
	if workers < 1 {
		workers = 5
	}

	today := time.Now()
	dates := make([]time.Time, 0, days)
	for i := 0; i < days; i++ {
		dates = append(dates, today.AddDate(0, 0, -i))
	}

	summary := &Summary{}
	var rowsMu sync.Mutex
	var written []*InstitutionalRow

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	bar := progressbar.Default(int64(len(dates)))
	for _, date := range dates {
		date := date
		group.Go(func() error {
			defer bar.Add(1)
			if ctx.Err() != nil {
				return nil // canceled, stop dispatching
			}
			rows := processDay(ctx, client, store, securities, date, summary)
			rowsMu.Lock()
			written = append(written, rows...)
			rowsMu.Unlock()
			return nil
		})
	}
	group.Wait()

	return written, summary
}

// processDay runs the full fetch/decode/parse/merge/persist pipeline for
// one calendar date across both markets.
func processDay(ctx context.Context, client *Client, store *Store, securities []*Security, date time.Time, summary *Summary) []*InstitutionalRow {
	byMarket := make(map[Market][]*Security)
	for _, sec := range securities {
		byMarket[sec.Market] = append(byMarket[sec.Market], sec)
	}

	var out []*InstitutionalRow
	for _, market := range []Market{MarketListed, MarketOTC} {
		tracked := byMarket[market]
		if len(tracked) == 0 {
			continue
		}

		// Incremental skip happens before any network call: stocks whose
		// snapshot already exists cost nothing, and a date previously
		// recorded as a non-trading day is not refetched at all.
		if store.IsNoTrading(market, date) {
			summary.addNoData(len(tracked))
			continue
		}
		pending := make([]*Security, 0, len(tracked))
		for _, sec := range tracked {
			if store.SnapshotExists(market, sec.StockCode, date) {
				continue
			}
			pending = append(pending, sec)
		}
		summary.addSkipped(len(tracked) - len(pending))
		if len(pending) == 0 {
			continue
		}

		subSources := market.SubSources()
		subRecords := make(map[SubSource]map[string]*NormalizedRecord, len(subSources))
		subErrs := make(map[SubSource]error, len(subSources))
		for _, sub := range subSources {
			if ctx.Err() != nil {
				return out
			}
			records, err := fetchSubSource(ctx, client, market, sub, date)
			if err != nil {
				subErrs[sub] = err
				event := log.Warn()
				if IsNoData(err) {
					event = log.Debug()
				}
				event.Err(err).Str("Market", string(market)).Str("SubSource", string(sub)).Time("Date", date).Msg("sub-source resolved without data")
				continue
			}
			indexed := make(map[string]*NormalizedRecord, len(records))
			for _, rec := range records {
				indexed[rec.StockCode] = rec
			}
			subRecords[sub] = indexed
		}

		allNoData := true
		for _, sub := range subSources {
			if !IsNoData(subErrs[sub]) {
				allNoData = false
				break
			}
		}
		if allNoData {
			if err := store.MarkNoTrading(market, date); err != nil {
				log.Error().Err(err).Str("Market", string(market)).Time("Date", date).Msg("cannot record non-trading day")
			}
			summary.addNoData(len(pending))
			continue
		}

		for _, sec := range pending {
			records := make(map[SubSource]*NormalizedRecord, len(subSources))
			var failedSub SubSource
			var failedKind ErrKind
			for _, sub := range subSources {
				if err := subErrs[sub]; err != nil {
					if !IsNoData(err) && failedKind == 0 {
						failedSub = sub
						failedKind = KindOf(err)
						if failedKind == 0 {
							failedKind = ErrTransient
						}
					}
					continue
				}
				if rec := subRecords[sub][sec.StockCode]; rec != nil {
					records[sub] = rec
				}
			}

			row := Merge(sec.StockCode, date, records, subSources)
			if row == nil {
				if failedKind != 0 {
					summary.addFailure(Failure{
						Unit:      FetchUnit{Market: market, StockCode: sec.StockCode, Date: date},
						SubSource: failedSub,
						Kind:      failedKind,
					})
				} else {
					// trading day, but no institutional activity reported
					// for this stock
					summary.addNoData(1)
				}
				continue
			}

			unit := FetchUnit{Market: market, StockCode: sec.StockCode, Date: date}
			if err := store.WriteSnapshot(market, sec.StockCode, date, row); err != nil {
				log.Error().Err(err).Str("StockCode", sec.StockCode).Time("Date", date).Msg("cannot write snapshot")
				summary.addFailure(Failure{Unit: unit, Kind: ErrTransient})
				continue
			}
			if err := store.Upsert(market, sec.StockCode, row); err != nil {
				log.Error().Err(err).Str("StockCode", sec.StockCode).Time("Date", date).Msg("cannot update accumulation file")
				summary.addFailure(Failure{Unit: unit, Kind: ErrTransient})
				continue
			}
			log.Info().Str("StockCode", sec.StockCode).Str("Date", row.Date).Str("Market", string(market)).Msg("saved daily row")
			summary.addWritten()
			out = append(out, row)
		}
	}
	return out
}

// fetchSubSource runs the fetch/decode/parse chain for one sub-source with
// a capped retry on transient failures. Decode and parse failures are
// terminal; refetching cannot fix them.
func fetchSubSource(ctx context.Context, client *Client, market Market, sub SubSource, date time.Time) ([]*NormalizedRecord, error) {
	attempts := viper.GetInt("max_retries")
	if attempts < 1 {
		attempts = 3
	}

	var payload *RawPayload
	var err error
	backoff := time.Second
	for attempt := 1; attempt <= attempts; attempt++ {
		payload, err = client.Fetch(ctx, market, sub, date)
		if err == nil {
			break
		}
		if !IsTransient(err) || attempt == attempts {
			return nil, err
		}
		log.Warn().Err(err).Str("SubSource", string(sub)).Int("Attempt", attempt).Msg("transient fetch failure, retrying")
		select {
		case <-ctx.Done():
			return nil, unitErr(ErrTransient, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	text, err := DecodeAs(payload.Body, payload.Charset)
	if err != nil {
		return nil, err
	}
	return ParseSource(text, sub)
}
