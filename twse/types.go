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

import "time"

// Market identifies the trading venue a security is listed on. The raw
// values match the labels used in stock_list.csv.
type Market string

const (
	MarketListed Market = "上市" // Taiwan Stock Exchange
	MarketOTC    Market = "上櫃" // Taipei Exchange
)

// RawDir returns the directory name used for this market under the data dir.
func (m Market) RawDir() string {
	if m == MarketOTC {
		return "tpex_raw"
	}
	return "twse_raw"
}

// SubSources returns the upstream feeds contributing to this market, in
// merge precedence order.
func (m Market) SubSources() []SubSource {
	if m == MarketOTC {
		return []SubSource{SourceTPEx}
	}
	return []SubSource{SourceForeign, SourceTrust, SourceDealer}
}

// SubSource is one of the upstream feeds that contribute disjoint field
// groups for the same (stock, date).
type SubSource string

const (
	SourceForeign SubSource = "foreign" // TWSE 外資及陸資 (TWT38U)
	SourceTrust   SubSource = "trust"   // TWSE 投信 (TWT44U)
	SourceDealer  SubSource = "dealer"  // TWSE 自營商 (TWT43U)
	SourceTPEx    SubSource = "tpex"    // TPEx combined daily file
)

// Security is one tracked stock, loaded from stock_list.csv at startup.
type Security struct {
	StockCode string
	Market    Market
}

// FetchUnit is the atomic scheduling unit: one (market, stock, date).
type FetchUnit struct {
	Market    Market
	StockCode string
	Date      time.Time
}

// Share-count field keys produced by the parsers. A field absent from a
// record means the owning sub-source had no data, which is distinct from a
// zero net flow.
const (
	FieldForeignBuy      = "foreign_buy"
	FieldForeignSell     = "foreign_sell"
	FieldForeignNet      = "foreign_net"
	FieldTrustBuy        = "trust_buy"
	FieldTrustSell       = "trust_sell"
	FieldTrustNet        = "trust_net"
	FieldDealerSelfBuy   = "dealer_self_buy"
	FieldDealerSelfSell  = "dealer_self_sell"
	FieldDealerSelfNet   = "dealer_self_net"
	FieldDealerHedgeBuy  = "dealer_hedge_buy"
	FieldDealerHedgeSell = "dealer_hedge_sell"
	FieldDealerHedgeNet  = "dealer_hedge_net"
)

// NormalizedRecord is one stock's figures from a single sub-source on a
// single day.
type NormalizedRecord struct {
	StockCode string
	StockName string
	Fields    map[string]int64
}

// InstitutionalRow is the merged daily row for one (stock, date). Nil
// pointers mean the contributing sub-source returned no data that day.
type InstitutionalRow struct {
	Date            string `json:"date" parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	StockCode       string `json:"stockCode" parquet:"name=stock_code, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	StockName       string `json:"stockName" parquet:"name=stock_name, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	ForeignBuy      *int64 `json:"foreignBuy" parquet:"name=foreign_buy, type=INT64, convertedtype=INT_64"`
	ForeignSell     *int64 `json:"foreignSell" parquet:"name=foreign_sell, type=INT64, convertedtype=INT_64"`
	ForeignNet      *int64 `json:"foreignNet" parquet:"name=foreign_net, type=INT64, convertedtype=INT_64"`
	TrustBuy        *int64 `json:"trustBuy" parquet:"name=trust_buy, type=INT64, convertedtype=INT_64"`
	TrustSell       *int64 `json:"trustSell" parquet:"name=trust_sell, type=INT64, convertedtype=INT_64"`
	TrustNet        *int64 `json:"trustNet" parquet:"name=trust_net, type=INT64, convertedtype=INT_64"`
	DealerSelfBuy   *int64 `json:"dealerSelfBuy" parquet:"name=dealer_self_buy, type=INT64, convertedtype=INT_64"`
	DealerSelfSell  *int64 `json:"dealerSelfSell" parquet:"name=dealer_self_sell, type=INT64, convertedtype=INT_64"`
	DealerSelfNet   *int64 `json:"dealerSelfNet" parquet:"name=dealer_self_net, type=INT64, convertedtype=INT_64"`
	DealerHedgeBuy  *int64 `json:"dealerHedgeBuy" parquet:"name=dealer_hedge_buy, type=INT64, convertedtype=INT_64"`
	DealerHedgeSell *int64 `json:"dealerHedgeSell" parquet:"name=dealer_hedge_sell, type=INT64, convertedtype=INT_64"`
	DealerHedgeNet  *int64 `json:"dealerHedgeNet" parquet:"name=dealer_hedge_net, type=INT64, convertedtype=INT_64"`
}

// rowFields maps field keys to their slot in InstitutionalRow, in the
// column order used by the snapshot and accumulation CSV files.
var rowFields = []struct {
	Name string
	Get  func(*InstitutionalRow) **int64
}{
	{FieldForeignBuy, func(r *InstitutionalRow) **int64 { return &r.ForeignBuy }},
	{FieldForeignSell, func(r *InstitutionalRow) **int64 { return &r.ForeignSell }},
	{FieldForeignNet, func(r *InstitutionalRow) **int64 { return &r.ForeignNet }},
	{FieldTrustBuy, func(r *InstitutionalRow) **int64 { return &r.TrustBuy }},
	{FieldTrustSell, func(r *InstitutionalRow) **int64 { return &r.TrustSell }},
	{FieldTrustNet, func(r *InstitutionalRow) **int64 { return &r.TrustNet }},
	{FieldDealerSelfBuy, func(r *InstitutionalRow) **int64 { return &r.DealerSelfBuy }},
	{FieldDealerSelfSell, func(r *InstitutionalRow) **int64 { return &r.DealerSelfSell }},
	{FieldDealerSelfNet, func(r *InstitutionalRow) **int64 { return &r.DealerSelfNet }},
	{FieldDealerHedgeBuy, func(r *InstitutionalRow) **int64 { return &r.DealerHedgeBuy }},
	{FieldDealerHedgeSell, func(r *InstitutionalRow) **int64 { return &r.DealerHedgeSell }},
	{FieldDealerHedgeNet, func(r *InstitutionalRow) **int64 { return &r.DealerHedgeNet }},
}

// Field returns a pointer to the named field's slot, or nil if the key is
// unknown.
func (r *InstitutionalRow) Field(name string) **int64 {
	for _, f := range rowFields {
		if f.Name == name {
			return f.Get(r)
		}
	}
	return nil
}
