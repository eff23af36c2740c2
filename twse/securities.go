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
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	securityCodeHeader   = "stock_code"
	securityMarketHeader = "上市上櫃"
)

// LoadSecurities reads the tracked security list. The header row is located
// by content, not by position, so the file may start with banner lines.
// Errors here are fatal to the run; nothing is fetched without a valid list.
func LoadSecurities(fn string) ([]*Security, error) {
	raw, err := os.ReadFile(fn)
	if err != nil {
		return nil, fmt.Errorf("read security list: %w", err)
	}

	text, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode security list: %w", err)
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse security list: %w", err)
	}

	codeCol, marketCol := -1, -1
	headerIdx := -1
	for i, row := range rows {
		for j, cell := range row {
			switch strings.TrimSpace(cell) {
			case securityCodeHeader:
				codeCol = j
			case securityMarketHeader:
				marketCol = j
			}
		}
		if codeCol >= 0 && marketCol >= 0 {
			headerIdx = i
			break
		}
		codeCol, marketCol = -1, -1
	}
	if headerIdx < 0 {
		return nil, fmt.Errorf("security list %s has no header row containing %q and %q", fn, securityCodeHeader, securityMarketHeader)
	}

	seen := make(map[string]bool)
	securities := make([]*Security, 0, len(rows)-headerIdx-1)
	for _, row := range rows[headerIdx+1:] {
		if codeCol >= len(row) || marketCol >= len(row) {
			continue
		}
		code := strings.TrimSpace(row[codeCol])
		market := Market(strings.TrimSpace(row[marketCol]))
		if code == "" {
			continue
		}
		if market != MarketListed && market != MarketOTC {
			log.Warn().Str("StockCode", code).Str("Market", string(market)).Msg("unknown market label, skipping security")
			continue
		}
		if seen[code] {
			log.Warn().Str("StockCode", code).Msg("duplicate stock code in security list, keeping first")
			continue
		}
		seen[code] = true
		securities = append(securities, &Security{StockCode: code, Market: market})
	}

	if len(securities) == 0 {
		return nil, fmt.Errorf("security list %s contains no usable securities", fn)
	}
	return securities, nil
}
