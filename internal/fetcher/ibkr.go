package fetcher

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	flexSendRequestPath  = "/FlexStatementService.SendRequest"
	flexGetStatementPath = "/FlexStatementService.GetStatement"
)

// navAttributes are checked in order on the AccountInformation element.
var navAttributes = []string{"netLiquidation", "nav", "totalNetAssetValue", "equityWithLoanValue"}

// IBKROptions parameterise the Flex Web Service fetcher.
type IBKROptions struct {
	FlexToken string
	QueryID   string
	BaseURL   string
	Version   string
	// Timeout bounds the request step; the statement download gets three times as long.
	Timeout time.Duration
}

// IBKR reads the net asset value from a Flex Query report.
type IBKR struct {
	opts     IBKROptions
	logger   zerolog.Logger
	client   *http.Client
	download *http.Client
	baseURL  string
}

// NewIBKR constructs an IBKR Flex fetcher.
func NewIBKR(opts IBKROptions, logger zerolog.Logger) *IBKR {
	if opts.Version == "" {
		opts.Version = "3"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &IBKR{
		opts:     opts,
		logger:   logger.With().Str("component", "ibkr_fetcher").Logger(),
		client:   newHTTPClient(timeout),
		download: newHTTPClient(3 * timeout),
		baseURL:  trimBase(opts.BaseURL, "https://www.interactivebrokers.com/Universal/servlet"),
	}
}

// FetchBalance requests a Flex statement, downloads it and extracts the NAV in USD.
func (i *IBKR) FetchBalance(ctx context.Context) (Balance, error) {
	if i.opts.FlexToken == "" || i.opts.QueryID == "" {
		return Balance{}, fmt.Errorf("ibkr flex credentials: %w", ErrNotConfigured)
	}

	i.logger.Debug().Msg("requesting flex report")
	payload, err := i.get(ctx, i.client, i.baseURL+flexSendRequestPath, i.opts.QueryID)
	if err != nil {
		return Balance{}, fmt.Errorf("flex send request: %w", err)
	}

	var ack flexRequestResponse
	if err := xml.Unmarshal(payload, &ack); err != nil {
		return Balance{}, malformed("ibkr request: %v", err)
	}
	if ack.Status != "Success" {
		code, msg := ack.ErrorCode, ack.ErrorMessage
		if code == "" {
			code = "?"
		}
		if msg == "" {
			msg = "?"
		}
		return Balance{}, fmt.Errorf("IBKR Error %s: %s", code, msg)
	}

	downloadURL := strings.TrimSpace(ack.URL)
	if downloadURL == "" {
		downloadURL = i.baseURL + flexGetStatementPath
	}
	i.logger.Debug().Str("reference", ack.ReferenceCode).Msg("flex report generated; downloading")

	report, err := i.get(ctx, i.download, downloadURL, ack.ReferenceCode)
	if err != nil {
		return Balance{}, fmt.Errorf("flex get statement: %w", err)
	}

	nav, err := i.parseReport(report)
	if err != nil {
		return Balance{}, err
	}
	return Balance{Amount: nav, Currency: USD}, nil
}

func (i *IBKR) get(ctx context.Context, client *http.Client, endpoint, q string) ([]byte, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	params := u.Query()
	params.Set("t", i.opts.FlexToken)
	params.Set("q", q)
	params.Set("v", i.opts.Version)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return do(client, req)
}

func (i *IBKR) parseReport(payload []byte) (decimal.Decimal, error) {
	var report flexQueryResponse
	if err := xml.Unmarshal(payload, &report); err != nil {
		return decimal.Decimal{}, malformed("ibkr report: %v", err)
	}
	if len(report.Statements) == 0 {
		return decimal.Decimal{}, malformed("no FlexStatement found")
	}
	stmt := report.Statements[0]

	if stmt.AccountInformation != nil {
		for _, name := range navAttributes {
			if raw, ok := attr(stmt.AccountInformation.Attrs, name); ok {
				return parseNAV(name, raw)
			}
		}
	}

	if stmt.EquitySummary != nil && len(stmt.EquitySummary.Entries) > 0 {
		// entries are chronological, the last one is the latest report date
		last := stmt.EquitySummary.Entries[len(stmt.EquitySummary.Entries)-1]
		for _, name := range []string{"total", "netLiquidation"} {
			if raw, ok := attr(last.Attrs, name); ok {
				return parseNAV(name, raw)
			}
		}
	}

	i.logger.Warn().Msg("could not find NAV in flex report")
	return decimal.Decimal{}, errors.New("NAV not found in report")
}

func parseNAV(name, raw string) (decimal.Decimal, error) {
	nav, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, malformed("ibkr %s: %v", name, err)
	}
	return nav, nil
}

func attr(attrs []xml.Attr, name string) (string, bool) {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

type flexRequestResponse struct {
	XMLName       xml.Name `xml:"FlexStatementResponse"`
	Status        string   `xml:"Status"`
	ReferenceCode string   `xml:"ReferenceCode"`
	URL           string   `xml:"Url"`
	ErrorCode     string   `xml:"ErrorCode"`
	ErrorMessage  string   `xml:"ErrorMessage"`
}

type flexAttrs struct {
	Attrs []xml.Attr `xml:",any,attr"`
}

type flexQueryResponse struct {
	XMLName    xml.Name `xml:"FlexQueryResponse"`
	Statements []struct {
		AccountInformation *flexAttrs `xml:"AccountInformation"`
		EquitySummary      *struct {
			Entries []flexAttrs `xml:"EquitySummaryByReportDateInBase"`
		} `xml:"EquitySummaryInBase"`
	} `xml:"FlexStatements>FlexStatement"`
}

var _ Provider = (*IBKR)(nil)
