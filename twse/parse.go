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
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// columnMatch locates one column in a source file. Group is set for the
// two-line headers TWSE uses on the foreign and dealer files, where the
// first line names a field group and the second the column within it.
// Single-line columns tolerate the "(股)" unit suffix TPEx sometimes adds.
type columnMatch struct {
	Group string
	Name  string
}

func (m columnMatch) matches(top, sub string) bool {
	if m.Group != "" {
		return top == m.Group && (sub == m.Name || sub == "")
	}
	return top == m.Name || top == m.Name+"(股)"
}

type numericColumn struct {
	Field string
	Match columnMatch
}

// sourceSchema declares the layout of one upstream CSV file. All four
// sub-sources are parsed by the same routine driven by these descriptors.
type sourceSchema struct {
	Source      SubSource
	HeaderMarks []string
	HeaderLines int
	Code        columnMatch
	Name        columnMatch
	Numeric     []numericColumn
}

var sourceSchemas = map[SubSource]*sourceSchema{
	SourceForeign: {
		Source:      SourceForeign,
		HeaderMarks: []string{"證券代號", "證券名稱"},
		HeaderLines: 2,
		Code:        columnMatch{Group: "證券代號", Name: "證券代號"},
		Name:        columnMatch{Group: "證券名稱", Name: "證券名稱"},
		Numeric: []numericColumn{
			{FieldForeignBuy, columnMatch{Group: "外資及陸資", Name: "買進股數"}},
			{FieldForeignSell, columnMatch{Group: "外資及陸資", Name: "賣出股數"}},
			{FieldForeignNet, columnMatch{Group: "外資及陸資", Name: "買賣超股數"}},
		},
	},
	SourceTrust: {
		Source:      SourceTrust,
		HeaderMarks: []string{"證券代號", "證券名稱"},
		HeaderLines: 1,
		Code:        columnMatch{Name: "證券代號"},
		Name:        columnMatch{Name: "證券名稱"},
		Numeric: []numericColumn{
			{FieldTrustBuy, columnMatch{Name: "買進股數"}},
			{FieldTrustSell, columnMatch{Name: "賣出股數"}},
			{FieldTrustNet, columnMatch{Name: "買賣超股數"}},
		},
	},
	SourceDealer: {
		Source:      SourceDealer,
		HeaderMarks: []string{"證券代號", "證券名稱"},
		HeaderLines: 2,
		Code:        columnMatch{Group: "證券代號", Name: "證券代號"},
		Name:        columnMatch{Group: "證券名稱", Name: "證券名稱"},
		Numeric: []numericColumn{
			{FieldDealerSelfBuy, columnMatch{Group: "自營商(自行買賣)", Name: "買進股數"}},
			{FieldDealerSelfSell, columnMatch{Group: "自營商(自行買賣)", Name: "賣出股數"}},
			{FieldDealerSelfNet, columnMatch{Group: "自營商(自行買賣)", Name: "買賣超股數"}},
			{FieldDealerHedgeBuy, columnMatch{Group: "自營商(避險)", Name: "買進股數"}},
			{FieldDealerHedgeSell, columnMatch{Group: "自營商(避險)", Name: "賣出股數"}},
			{FieldDealerHedgeNet, columnMatch{Group: "自營商(避險)", Name: "買賣超股數"}},
		},
	},
	SourceTPEx: {
		Source:      SourceTPEx,
		HeaderMarks: []string{"代號", "名稱"},
		HeaderLines: 1,
		Code:        columnMatch{Name: "代號"},
		Name:        columnMatch{Name: "名稱"},
		Numeric: []numericColumn{
			{FieldForeignBuy, columnMatch{Name: "外資及陸資買進股數"}},
			{FieldForeignSell, columnMatch{Name: "外資及陸資賣出股數"}},
			{FieldForeignNet, columnMatch{Name: "外資及陸資買賣超股數"}},
			{FieldTrustBuy, columnMatch{Name: "投信買進股數"}},
			{FieldTrustSell, columnMatch{Name: "投信賣出股數"}},
			{FieldTrustNet, columnMatch{Name: "投信買賣超股數"}},
			{FieldDealerSelfBuy, columnMatch{Name: "自營商(自行買賣)買進股數"}},
			{FieldDealerSelfSell, columnMatch{Name: "自營商(自行買賣)賣出股數"}},
			{FieldDealerSelfNet, columnMatch{Name: "自營商(自行買賣)買賣超股數"}},
			{FieldDealerHedgeBuy, columnMatch{Name: "自營商(避險)買進股數"}},
			{FieldDealerHedgeSell, columnMatch{Name: "自營商(避險)賣出股數"}},
			{FieldDealerHedgeNet, columnMatch{Name: "自營商(避險)買賣超股數"}},
		},
	},
}

// cellCleaner strips the `="..."` wrapping TWSE puts around cells to stop
// spreadsheets from eating leading zeros.
var cellCleaner = strings.NewReplacer("=", "", "\"", "")

func cleanCell(s string) string {
	return strings.TrimSpace(cellCleaner.Replace(s))
}

// ParseSource converts one decoded upstream response into normalized
// records, one per stock listed in the file. The header row is located by
// content since the upstreams prepend title banners, and trailing footnote
// and subtotal rows are skipped. Individual rows with non-numeric values in
// required columns are dropped and counted, not fatal.
func ParseSource(text string, sub SubSource) ([]*NormalizedRecord, error) {
	schema, ok := sourceSchemas[sub]
	if !ok {
		return nil, fmt.Errorf("no schema for sub-source %s", sub)
	}

	lines := splitLines(text)
	headerIdx := findHeader(lines, schema.HeaderMarks)
	if headerIdx < 0 {
		return nil, unitErr(ErrParse, fmt.Errorf("no header row matching %v", schema.HeaderMarks))
	}

	rows := readCSVRows(strings.Join(lines[headerIdx:], "\n"))
	if len(rows) <= schema.HeaderLines {
		return nil, unitErr(ErrParse, errors.New("no data rows after header"))
	}

	tops := carryForward(cleanRow(rows[0]))
	subs := make([]string, len(tops))
	if schema.HeaderLines == 2 {
		if len(rows) < 2 {
			return nil, unitErr(ErrParse, errors.New("two-line header truncated"))
		}
		subs = cleanRow(rows[1])
	}

	codeIdx := findColumn(tops, subs, schema.Code)
	nameIdx := findColumn(tops, subs, schema.Name)
	if codeIdx < 0 || nameIdx < 0 {
		return nil, unitErr(ErrParse, errors.New("code or name column not found"))
	}
	maxIdx := codeIdx
	if nameIdx > maxIdx {
		maxIdx = nameIdx
	}
	numericIdx := make([]int, len(schema.Numeric))
	for i, col := range schema.Numeric {
		idx := findColumn(tops, subs, col.Match)
		if idx < 0 {
			return nil, unitErr(ErrParse, fmt.Errorf("column %s%s not found", col.Match.Group, col.Match.Name))
		}
		numericIdx[i] = idx
		if idx > maxIdx {
			maxIdx = idx
		}
	}

	var records []*NormalizedRecord
	dropped := 0
	for _, row := range rows[schema.HeaderLines:] {
		if len(row) <= maxIdx {
			continue // footnote or legend row
		}
		code := cleanCell(row[codeIdx])
		if code == "" || strings.Contains(code, "計") {
			continue // blank or subtotal row
		}
		fields := make(map[string]int64, len(schema.Numeric))
		ok := true
		for i, col := range schema.Numeric {
			v, err := parseShares(row[numericIdx[i]])
			if err != nil {
				ok = false
				break
			}
			fields[col.Field] = v
		}
		if !ok {
			dropped++
			continue
		}
		records = append(records, &NormalizedRecord{
			StockCode: code,
			StockName: cleanCell(row[nameIdx]),
			Fields:    fields,
		})
	}

	if dropped > 0 {
		log.Warn().Str("SubSource", string(sub)).Int("DroppedRecords", dropped).Msg("dropped records with non-numeric values")
	}
	if len(records) == 0 {
		return nil, unitErr(ErrParse, errors.New("no usable records"))
	}
	return records, nil
}

func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func findHeader(lines []string, marks []string) int {
	for i, line := range lines {
		found := true
		for _, mark := range marks {
			if !strings.Contains(line, mark) {
				found = false
				break
			}
		}
		if found {
			return i
		}
	}
	return -1
}

func readCSVRows(text string) [][]string {
	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // malformed footnote line
		}
		rows = append(rows, row)
	}
	return rows
}

func cleanRow(row []string) []string {
	out := make([]string, len(row))
	for i, cell := range row {
		out[i] = cleanCell(cell)
	}
	return out
}

// carryForward propagates group names across the blank cells a spanning
// header leaves behind.
func carryForward(row []string) []string {
	out := make([]string, len(row))
	current := ""
	for i, cell := range row {
		if cell != "" {
			current = cell
		}
		out[i] = current
	}
	return out
}

func findColumn(tops, subs []string, m columnMatch) int {
	for i := range tops {
		sub := ""
		if i < len(subs) {
			sub = subs[i]
		}
		if m.matches(tops[i], sub) {
			return i
		}
	}
	return -1
}

func parseShares(cell string) (int64, error) {
	s := strings.ReplaceAll(cleanCell(cell), ",", "")
	if s == "" {
		return 0, errors.New("empty numeric cell")
	}
	return strconv.ParseInt(s, 10, 64)
}
