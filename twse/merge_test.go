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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mergeDate = time.Date(2023, 5, 15, 0, 0, 0, 0, time.UTC)

func TestMergeMissingSubSourceLeavesNilFields(t *testing.T) {
	// foreign succeeded, trust had no data that day: trust fields must be
	// nil, never zero
	records := map[SubSource]*NormalizedRecord{
		SourceForeign: {
			StockCode: "2330",
			StockName: "台積電",
			Fields: map[string]int64{
				FieldForeignBuy:  1000,
				FieldForeignSell: 400,
				FieldForeignNet:  600,
			},
		},
	}

	row := Merge("2330", mergeDate, records, MarketListed.SubSources())
	require.NotNil(t, row)
	assert.Equal(t, "2023-05-15", row.Date)
	assert.Equal(t, "台積電", row.StockName)
	require.NotNil(t, row.ForeignNet)
	assert.Equal(t, int64(600), *row.ForeignNet)
	assert.Nil(t, row.TrustBuy)
	assert.Nil(t, row.TrustNet)
	assert.Nil(t, row.DealerSelfNet)
}

func TestMergeZeroIsNotNil(t *testing.T) {
	records := map[SubSource]*NormalizedRecord{
		SourceTrust: {
			StockCode: "2330",
			Fields:    map[string]int64{FieldTrustNet: 0},
		},
	}

	row := Merge("2330", mergeDate, records, MarketListed.SubSources())
	require.NotNil(t, row)
	require.NotNil(t, row.TrustNet)
	assert.Equal(t, int64(0), *row.TrustNet)
}

func TestMergeFirstConfiguredSubSourceWins(t *testing.T) {
	records := map[SubSource]*NormalizedRecord{
		SourceForeign: {
			StockCode: "2330",
			Fields:    map[string]int64{FieldForeignNet: 100},
		},
		SourceTrust: {
			StockCode: "2330",
			Fields:    map[string]int64{FieldForeignNet: 999, FieldTrustNet: 5},
		},
	}

	row := Merge("2330", mergeDate, records, MarketListed.SubSources())
	require.NotNil(t, row)
	require.NotNil(t, row.ForeignNet)
	assert.Equal(t, int64(100), *row.ForeignNet)
	require.NotNil(t, row.TrustNet)
	assert.Equal(t, int64(5), *row.TrustNet)
}

func TestMergeNothingContributed(t *testing.T) {
	row := Merge("2330", mergeDate, map[SubSource]*NormalizedRecord{}, MarketListed.SubSources())
	assert.Nil(t, row)
}

func TestMergeCombinesDisjointGroups(t *testing.T) {
	records := map[SubSource]*NormalizedRecord{
		SourceForeign: {
			StockCode: "2330",
			StockName: "台積電",
			Fields:    map[string]int64{FieldForeignNet: 600},
		},
		SourceTrust: {
			StockCode: "2330",
			StockName: "台積電",
			Fields:    map[string]int64{FieldTrustNet: -50},
		},
		SourceDealer: {
			StockCode: "2330",
			StockName: "台積電",
			Fields: map[string]int64{
				FieldDealerSelfNet:  10,
				FieldDealerHedgeNet: -10,
			},
		},
	}

	row := Merge("2330", mergeDate, records, MarketListed.SubSources())
	require.NotNil(t, row)
	assert.Equal(t, int64(600), *row.ForeignNet)
	assert.Equal(t, int64(-50), *row.TrustNet)
	assert.Equal(t, int64(10), *row.DealerSelfNet)
	assert.Equal(t, int64(-10), *row.DealerHedgeNet)
	assert.Nil(t, row.ForeignBuy)
}
