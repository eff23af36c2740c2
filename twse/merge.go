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
	"time"

	"github.com/rs/zerolog/log"
)

// Merge combines whatever records the sub-sources produced for one
// (stock, date) into a single row. Sub-sources that returned no data
// contribute nil fields, never zeros; no data and a zero net flow are
// different facts. The sources are field-disjoint, but should two ever
// disagree on a shared field the first-configured sub-source wins and the
// conflict is logged. Returns nil when no sub-source contributed.
func Merge(code string, date time.Time, records map[SubSource]*NormalizedRecord, order []SubSource) *InstitutionalRow {
	row := &InstitutionalRow{
		Date:      date.Format("2006-01-02"),
		StockCode: code,
	}

	contributed := false
	for _, sub := range order {
		rec := records[sub]
		if rec == nil {
			continue
		}
		contributed = true
		if row.StockName == "" {
			row.StockName = rec.StockName
		}
		for _, f := range rowFields {
			v, ok := rec.Fields[f.Name]
			if !ok {
				continue
			}
			slot := f.Get(row)
			if *slot == nil {
				val := v
				*slot = &val
			} else if **slot != v {
				log.Warn().
					Str("StockCode", code).
					Str("Field", f.Name).
					Str("SubSource", string(sub)).
					Int64("Kept", **slot).
					Int64("Ignored", v).
					Msg("sub-sources disagree on shared field, keeping first")
			}
		}
	}

	if !contributed {
		return nil
	}
	return row
}
