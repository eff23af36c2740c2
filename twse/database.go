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

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
)

// SaveToDatabase upserts the rows written during a run into the
// institutional_flows table. Conflicts on (stock_code, event_date) replace
// the previous figures, mirroring the file store's date-replace semantics.
func SaveToDatabase(rows []*InstitutionalRow, dsn string) error {
	log.Info().Msg("saving to database")
	conn, err := pgx.Connect(context.Background(), dsn)
	if err != nil {
		log.Error().Err(err).Msg("Could not connect to database")
		return err
	}
	defer conn.Close(context.Background())

	for _, row := range rows {
		_, err := conn.Exec(context.Background(),
			`INSERT INTO institutional_flows (
			"stock_code",
			"stock_name",
			"event_date",
			"foreign_buy",
			"foreign_sell",
			"foreign_net",
			"trust_buy",
			"trust_sell",
			"trust_net",
			"dealer_self_buy",
			"dealer_self_sell",
			"dealer_self_net",
			"dealer_hedge_buy",
			"dealer_hedge_sell",
			"dealer_hedge_net"
		) VALUES (
			$1,
			$2,
			$3,
			$4,
			$5,
			$6,
			$7,
			$8,
			$9,
			$10,
			$11,
			$12,
			$13,
			$14,
			$15
		) ON CONFLICT ON CONSTRAINT institutional_flows_pkey
		DO UPDATE SET
			stock_name = EXCLUDED.stock_name,
			foreign_buy = EXCLUDED.foreign_buy,
			foreign_sell = EXCLUDED.foreign_sell,
			foreign_net = EXCLUDED.foreign_net,
			trust_buy = EXCLUDED.trust_buy,
			trust_sell = EXCLUDED.trust_sell,
			trust_net = EXCLUDED.trust_net,
			dealer_self_buy = EXCLUDED.dealer_self_buy,
			dealer_self_sell = EXCLUDED.dealer_self_sell,
			dealer_self_net = EXCLUDED.dealer_self_net,
			dealer_hedge_buy = EXCLUDED.dealer_hedge_buy,
			dealer_hedge_sell = EXCLUDED.dealer_hedge_sell,
			dealer_hedge_net = EXCLUDED.dealer_hedge_net;`,
			row.StockCode, row.StockName, row.Date,
			row.ForeignBuy, row.ForeignSell, row.ForeignNet,
			row.TrustBuy, row.TrustSell, row.TrustNet,
			row.DealerSelfBuy, row.DealerSelfSell, row.DealerSelfNet,
			row.DealerHedgeBuy, row.DealerHedgeSell, row.DealerHedgeNet)
		if err != nil {
			log.Error().Err(err).Str("StockCode", row.StockCode).Str("EventDate", row.Date).Msg("error saving institutional flow row to database")
		}
	}

	return nil
}
