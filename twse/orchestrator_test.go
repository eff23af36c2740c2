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
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const noTradingBody = "很抱歉，沒有符合條件的資料!"

func setTestConfig(t *testing.T) {
	t.Helper()
	viper.Set("rate_limit", 1000)
	viper.Set("fetch_timeout", 5)
	viper.Set("max_retries", 1)
	viper.Set("workers", 2)
	t.Cleanup(viper.Reset)
}

// newTWSEServer serves the three TWSE sub-source fixtures. Dates in
// noTrading get the short holiday marker on every endpoint; dates in
// trustNoTrading get it on the trust endpoint only.
func newTWSEServer(fetches *int64, noTrading, trustNoTrading map[string]bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(fetches, 1)
		date := r.URL.Query().Get("date")
		if noTrading[date] {
			io.WriteString(w, noTradingBody)
			return
		}
		switch r.URL.Path {
		case "/rwd/zh/fund/TWT38U":
			io.WriteString(w, foreignFixture)
		case "/rwd/zh/fund/TWT44U":
			if trustNoTrading[date] {
				io.WriteString(w, noTradingBody)
				return
			}
			io.WriteString(w, trustFixture)
		case "/rwd/zh/fund/TWT43U":
			io.WriteString(w, dealerFixture)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestBackfillScenario(t *testing.T) {
	setTestConfig(t)

	today := time.Now()
	day2 := today.AddDate(0, 0, -1)
	day3 := today.AddDate(0, 0, -2)

	var fetches int64
	// day 2 is a weekend; the trust feed is additionally empty today
	server := newTWSEServer(&fetches,
		map[string]bool{day2.Format("20060102"): true},
		map[string]bool{today.Format("20060102"): true})
	defer server.Close()

	client := NewClient()
	client.TWSEBase = server.URL
	store := NewStore(t.TempDir())
	securities := []*Security{{StockCode: "2330", Market: MarketListed}}

	rows, summary := Backfill(context.Background(), client, store, securities, 3)

	assert.Equal(t, 2, summary.Written)
	assert.Equal(t, 1, summary.NoData)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Len(t, rows, 2)

	assert.True(t, store.SnapshotExists(MarketListed, "2330", today))
	assert.False(t, store.SnapshotExists(MarketListed, "2330", day2))
	assert.True(t, store.SnapshotExists(MarketListed, "2330", day3))

	accumulated, err := store.readAccumulation(MarketListed, "2330")
	require.NoError(t, err)
	require.Len(t, accumulated, 2)
	assert.Equal(t, day3.Format("2006-01-02"), accumulated[0].Date)
	assert.Equal(t, today.Format("2006-01-02"), accumulated[1].Date)

	// the trust feed had no data today: trust fields are nil, the others
	// populated
	assert.Nil(t, accumulated[1].TrustNet)
	require.NotNil(t, accumulated[1].ForeignNet)
	assert.Equal(t, int64(8000000), *accumulated[1].ForeignNet)
	require.NotNil(t, accumulated[1].DealerSelfNet)
	require.NotNil(t, accumulated[0].TrustNet)
	assert.Equal(t, int64(4000000), *accumulated[0].TrustNet)

	// a second run over the same range performs zero fetches and leaves
	// the output byte-identical
	before, err := os.ReadFile(store.accumulationPath(MarketListed, "2330"))
	require.NoError(t, err)
	fetchesAfterFirst := atomic.LoadInt64(&fetches)

	rows2, summary2 := Backfill(context.Background(), client, store, securities, 3)
	assert.Empty(t, rows2)
	assert.Equal(t, 0, summary2.Written)
	assert.Equal(t, 2, summary2.Skipped)
	assert.Equal(t, 1, summary2.NoData)
	assert.Equal(t, fetchesAfterFirst, atomic.LoadInt64(&fetches), "second run must not fetch")

	after, err := os.ReadFile(store.accumulationPath(MarketListed, "2330"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestBackfillPartialFailureIsolation(t *testing.T) {
	setTestConfig(t)

	// TWSE is down hard; TPEx works
	twseServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer twseServer.Close()

	rocForm := regexp.MustCompile(`^\d{3}/\d{2}/\d{2}$`)
	tpexServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rocForm.MatchString(r.URL.Query().Get("d")) {
			http.Error(w, "bad date", http.StatusBadRequest)
			return
		}
		io.WriteString(w, tpexFixture)
	}))
	defer tpexServer.Close()

	client := NewClient()
	client.TWSEBase = twseServer.URL
	client.TPEXBase = tpexServer.URL
	store := NewStore(t.TempDir())
	securities := []*Security{
		{StockCode: "2330", Market: MarketListed},
		{StockCode: "5483", Market: MarketOTC},
	}

	rows, summary := Backfill(context.Background(), client, store, securities, 1)

	assert.Equal(t, 1, summary.Written, "the OTC stock must complete despite the TWSE outage")
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "2330", summary.Failures[0].Unit.StockCode)
	assert.Equal(t, MarketListed, summary.Failures[0].Unit.Market)
	assert.Equal(t, ErrTransient, summary.Failures[0].Kind)
	require.Len(t, rows, 1)
	assert.Equal(t, "5483", rows[0].StockCode)

	assert.True(t, store.SnapshotExists(MarketOTC, "5483", time.Now()))
	assert.False(t, store.SnapshotExists(MarketListed, "2330", time.Now()))
}

func TestBackfillCancellation(t *testing.T) {
	setTestConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var fetches int64
	server := newTWSEServer(&fetches, nil, nil)
	defer server.Close()

	client := NewClient()
	client.TWSEBase = server.URL
	store := NewStore(t.TempDir())
	securities := []*Security{{StockCode: "2330", Market: MarketListed}}

	rows, summary := Backfill(ctx, client, store, securities, 5)
	assert.Empty(t, rows)
	assert.Equal(t, 0, summary.Written)
	assert.Equal(t, int64(0), atomic.LoadInt64(&fetches), "a canceled run must not dispatch units")
}
