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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchRejectsFutureDate(t *testing.T) {
	setTestConfig(t)
	client := NewClient()

	_, err := client.Fetch(context.Background(), MarketListed, SourceForeign, time.Now().AddDate(0, 0, 1))
	assert.ErrorIs(t, err, ErrFutureDate)
}

func TestFetchShortBodyIsNoData(t *testing.T) {
	setTestConfig(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, noTradingBody)
	}))
	defer server.Close()

	client := NewClient()
	client.TWSEBase = server.URL

	_, err := client.Fetch(context.Background(), MarketListed, SourceTrust, time.Now())
	require.Error(t, err)
	assert.True(t, IsNoData(err))
	assert.False(t, IsTransient(err))
}

func TestFetchServerErrorIsTransient(t *testing.T) {
	setTestConfig(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient()
	client.TWSEBase = server.URL

	_, err := client.Fetch(context.Background(), MarketListed, SourceDealer, time.Now())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestFetchPassesWireParameters(t *testing.T) {
	setTestConfig(t)
	date := time.Date(2023, 5, 15, 0, 0, 0, 0, time.Local)

	twseServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rwd/zh/fund/TWT44U", r.URL.Path)
		assert.Equal(t, "20230515", r.URL.Query().Get("date"))
		assert.Equal(t, "csv", r.URL.Query().Get("response"))
		io.WriteString(w, trustFixture)
	}))
	defer twseServer.Close()

	tpexServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, tpexEndpoint, r.URL.Path)
		assert.Equal(t, "112/05/15", r.URL.Query().Get("d"))
		assert.Equal(t, "D", r.URL.Query().Get("t"))
		assert.Equal(t, "csv", r.URL.Query().Get("o"))
		io.WriteString(w, tpexFixture)
	}))
	defer tpexServer.Close()

	client := NewClient()
	client.TWSEBase = twseServer.URL
	client.TPEXBase = tpexServer.URL

	payload, err := client.Fetch(context.Background(), MarketListed, SourceTrust, date)
	require.NoError(t, err)
	assert.NotEmpty(t, payload.Body)

	payload, err = client.Fetch(context.Background(), MarketOTC, SourceTPEx, date)
	require.NoError(t, err)
	assert.NotEmpty(t, payload.Body)
}

func TestROCDate(t *testing.T) {
	assert.Equal(t, "112/05/15", rocDate(time.Date(2023, 5, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "89/01/02", rocDate(time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC)))
}

func TestCharsetOf(t *testing.T) {
	assert.Equal(t, "big5", charsetOf("text/csv; charset=big5"))
	assert.Equal(t, "", charsetOf("text/csv"))
	assert.Equal(t, "", charsetOf(""))
}
