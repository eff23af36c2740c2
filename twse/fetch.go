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
	"crypto/tls"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"go.uber.org/ratelimit"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Responses shorter than this are the upstream's way of saying there was no
// trading on the requested date.
const noDataThreshold = 200

var twseEndpoints = map[SubSource]string{
	SourceForeign: "/rwd/zh/fund/TWT38U",
	SourceTrust:   "/rwd/zh/fund/TWT44U",
	SourceDealer:  "/rwd/zh/fund/TWT43U",
}

const tpexEndpoint = "/web/stock/3insti/daily_trade/3itrade_hedge_result.php"

// RawPayload is the undecoded body of one upstream response together with
// whatever charset the server declared.
type RawPayload struct {
	Body    []byte
	Charset string
}

// Client fetches raw daily CSV files from the TWSE and TPEx endpoints. One
// Client is shared by all workers; the per-host rate limiters gate the
// issuance of requests so pool parallelism does not turn into bursts
// against a single upstream.
type Client struct {
	TWSEBase string
	TPEXBase string

	http      *resty.Client
	twseLimit ratelimit.Limiter
	tpexLimit ratelimit.Limiter
}

func NewClient() *Client {
	rps := viper.GetInt("rate_limit")
	if rps <= 0 {
		rps = 2
	}
	timeout := viper.GetInt("fetch_timeout")
	if timeout <= 0 {
		timeout = 15
	}

	// Both exchanges have served expired or mismatched certificates in the
	// past; verification is intentionally relaxed.
	httpClient := resty.New().
		SetTimeout(time.Duration(timeout) * time.Second).
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}).
		SetHeader("User-Agent", browserUserAgent)

	return &Client{
		TWSEBase:  "https://www.twse.com.tw",
		TPEXBase:  "https://www.tpex.org.tw",
		http:      httpClient,
		twseLimit: ratelimit.New(rps),
		tpexLimit: ratelimit.New(rps),
	}
}

// Fetch performs one outbound request for the given (market, sub-source,
// date). It does not retry; the retry policy lives with the caller.
func (c *Client) Fetch(ctx context.Context, market Market, sub SubSource, date time.Time) (*RawPayload, error) {
	if date.After(time.Now()) {
		return nil, ErrFutureDate
	}

	var url string
	params := map[string]string{}
	switch market {
	case MarketOTC:
		c.tpexLimit.Take()
		url = c.TPEXBase + tpexEndpoint
		params["d"] = rocDate(date)
		params["t"] = "D"
		params["o"] = "csv"
	default:
		c.twseLimit.Take()
		endpoint, ok := twseEndpoints[sub]
		if !ok {
			return nil, fmt.Errorf("no TWSE endpoint for sub-source %s", sub)
		}
		url = c.TWSEBase + endpoint
		params["date"] = date.Format("20060102")
		params["response"] = "csv"
	}

	log.Debug().Str("Url", url).Str("SubSource", string(sub)).Time("Date", date).Msg("Loading URL")
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetHeader("Accept", "text/csv").
		Get(url)
	if err != nil {
		return nil, unitErr(ErrTransient, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, unitErr(ErrTransient, fmt.Errorf("status %d from %s", resp.StatusCode(), url))
	}

	body := resp.Body()
	if len(body) < noDataThreshold {
		return nil, unitErr(ErrNoData, fmt.Errorf("body of %d bytes, likely a non-trading day", len(body)))
	}

	return &RawPayload{Body: body, Charset: charsetOf(resp.Header().Get("Content-Type"))}, nil
}

// rocDate formats a date using the Republic of China calendar year, the
// convention the TPEx endpoint expects (e.g. 2023-05-15 -> 112/05/15).
func rocDate(t time.Time) string {
	return fmt.Sprintf("%d/%02d/%02d", t.Year()-1911, int(t.Month()), t.Day())
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["charset"])
}
