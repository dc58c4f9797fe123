// Package vm inserts extracted SOSE series into Victoria Metrics.
package vm

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/glwagner/sose/internal/sose"
)

// Client is a Victoria Metrics client capable of inserting SOSE records via
// various protocols.
type Client struct {
	logger       *slog.Logger
	httpCli      *http.Client
	breaker      *gobreaker.CircuitBreaker
	insertURL    string
	metricPrefix string
	recToText    recToTextFunc

	// MaxElapsedTime bounds the retries of one insert.
	MaxElapsedTime time.Duration
}

const metricPrefixRE = "^[a-zA-Z0-9]+$"

// NewClient creates a new VM client.
func NewClient(logger *slog.Logger, insertURL string, maxConns int, metricPrefix string) (*Client, error) {
	url, err := url.Parse(insertURL)
	if err != nil {
		return nil, err
	}

	matches, err := regexp.Match(metricPrefixRE, []byte(metricPrefix))
	if err != nil {
		return nil, err
	}
	if !matches {
		return nil, fmt.Errorf("metric prefix %q does not match %q regular expression", metricPrefix, metricPrefixRE)
	}

	apiParams := apiParamsFuncs[url.Path]
	if apiParams == nil {
		return nil, fmt.Errorf("inserting into %q is not supported", insertURL)
	}
	q := url.Query()
	for name, value := range apiParams(metricPrefix) {
		q.Add(name, value)
	}
	url.RawQuery = q.Encode()

	recToText := recToTextFuncs[url.Path]
	if recToText == nil {
		return nil, fmt.Errorf("inserting into %q is not supported", insertURL)
	}

	return &Client{
		logger: logger,
		httpCli: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        maxConns,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: maxConns,
				MaxConnsPerHost:     maxConns,
			},
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "victoriametrics",
			MaxRequests: 1,
			Interval:    1 * time.Minute,
			Timeout:     30 * time.Second,
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Circuit breaker changed state", "name", name, "from", from.String(), "to", to.String())
			},
		}),
		insertURL:      url.String(),
		metricPrefix:   metricPrefix,
		recToText:      recToText,
		MaxElapsedTime: 2 * time.Minute,
	}, nil
}

// errStatus is returned for responses other than 204 No Content.
type errStatus int

func (e errStatus) Error() string { return fmt.Sprintf("unexpected status %d", int(e)) }

// Insert inserts SOSE records into Victoria Metrics. Network errors and
// server side failures are retried with exponential backoff; client errors
// are not.
func (c *Client) Insert(recs []sose.Record) error {
	body := recsToText(recs, c.metricPrefix, c.recToText)
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.MaxElapsedTime
	return backoff.RetryNotify(
		func() error {
			_, err := c.breaker.Execute(func() (interface{}, error) {
				return nil, c.post(body)
			})
			var code errStatus
			if errors.As(err, &code) && code < 500 && code != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		},
		b,
		func(err error, d time.Duration) {
			c.logger.Warn("Could not post data, retrying", "err", err, "in", d)
		},
	)
}

func (c *Client) post(body string) error {
	res, err := c.httpCli.Post(c.insertURL, "text/plain", strings.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "posting data")
	}
	defer res.Body.Close()
	if _, err := io.Copy(io.Discard, res.Body); err != nil {
		c.logger.Error("Failed to drain response body", "err", err)
	}
	if res.StatusCode != http.StatusNoContent {
		return errStatus(res.StatusCode)
	}
	return nil
}

type apiParamsFunc func(string) map[string]string

var apiParamsFuncs = map[string]apiParamsFunc{
	"/influx/write":        influxDBAPIParams,
	"/influx/api/v2/write": influxDBAPIParams,
	"/write":               influxDBAPIParams,
	"/api/v2/write":        influxDBAPIParams,
	"/api/v1/import/csv":   csvAPIParams,
}

func influxDBAPIParams(string) map[string]string {
	return map[string]string{"precision": "ms"}
}

func csvAPIParams(metricPrefix string) map[string]string {
	return map[string]string{
		"format": fmt.Sprintf(""+
			"1:time:unix_ms,"+
			"2:label:var,"+
			"3:label:la,"+
			"4:label:lo,"+
			"5:label:depth,"+
			"6:metric:%s", metricPrefix),
	}
}

type recToTextFunc func(*strings.Builder, *sose.Record, string)

// recsToText converts multiple SOSE records to text. Records without a
// value are skipped.
func recsToText(recs []sose.Record, metricPrefix string, recToText recToTextFunc) string {
	var sb strings.Builder
	for _, r := range recs {
		if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
			continue
		}
		recToText(&sb, &r, metricPrefix)
		sb.WriteString("\n")
	}
	return sb.String()
}

var recToTextFuncs = map[string]recToTextFunc{
	"/influx/write":        recToInfluxDB,
	"/influx/api/v2/write": recToInfluxDB,
	"/write":               recToInfluxDB,
	"/api/v2/write":        recToInfluxDB,
	"/api/v1/import/csv":   recToCSV,
}

var influxDBFmt = "%s,var=%s,la=%.2f,lo=%.2f,depth=%.1f value=%g %d"

// recToInfluxDB converts a SOSE record into InfluxDB line protocol and
// appends it to the string builder.
func recToInfluxDB(sb *strings.Builder, r *sose.Record, metricPrefix string) {
	sb.WriteString(fmt.Sprintf(influxDBFmt,
		metricPrefix,
		r.Variable,
		r.Latitude,
		r.Longitude,
		r.Depth,
		r.Value,
		r.Timestamp,
	))
}

var csvFmt = "%d,%s,%.2f,%.2f,%.1f,%g"

// recToCSV converts a SOSE record into a CSV record and appends it to the
// string builder.
func recToCSV(sb *strings.Builder, r *sose.Record, _ string) {
	sb.WriteString(fmt.Sprintf(csvFmt,
		r.Timestamp,
		r.Variable,
		r.Latitude,
		r.Longitude,
		r.Depth,
		r.Value,
	))
}
