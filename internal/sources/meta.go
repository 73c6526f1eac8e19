package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Aniket17200/Profitfirst/internal/models"
	"github.com/Aniket17200/Profitfirst/internal/normalize"
	"github.com/Aniket17200/Profitfirst/internal/util"
)

const (
	metaOverviewFields = "spend,clicks,impressions,reach,cpc,cpm,ctr,purchase_roas"
	metaDailyFields    = "spend,reach,inline_link_clicks,purchase_roas,date_start"
	metaMaxPages       = 100
)

// MetaConfig tunes the ads client
type MetaConfig struct {
	BaseURL string
	Retry   RetryPolicy
}

// DefaultMetaConfig returns production settings
func DefaultMetaConfig() MetaConfig {
	return MetaConfig{
		BaseURL: "https://graph.facebook.com/v19.0",
		Retry:   DefaultRetryPolicy(),
	}
}

// MetaAdsClient fetches ad insights from the Meta Marketing API
type MetaAdsClient struct {
	cfg    MetaConfig
	http   *http.Client
	logger *zap.Logger
}

// NewMetaAdsClient creates a new ads client
func NewMetaAdsClient(cfg MetaConfig, httpClient *http.Client) *MetaAdsClient {
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMetaConfig().BaseURL
	}
	return &MetaAdsClient{
		cfg:    cfg,
		http:   httpClient,
		logger: util.ComponentLogger(SourceMeta),
	}
}

// Numeric insight fields arrive as strings; interface{} keeps either form.
type metaAction struct {
	ActionType string      `json:"action_type"`
	Value      interface{} `json:"value"`
}

type metaInsight struct {
	Spend            interface{}  `json:"spend"`
	Clicks           interface{}  `json:"clicks"`
	Impressions      interface{}  `json:"impressions"`
	Reach            interface{}  `json:"reach"`
	CPC              interface{}  `json:"cpc"`
	CPM              interface{}  `json:"cpm"`
	CTR              interface{}  `json:"ctr"`
	InlineLinkClicks interface{}  `json:"inline_link_clicks"`
	PurchaseROAS     []metaAction `json:"purchase_roas"`
	DateStart        string       `json:"date_start"`
}

type metaInsightsResponse struct {
	Data   []metaInsight `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

func (m metaInsight) roas() *float64 {
	if len(m.PurchaseROAS) == 0 {
		return nil
	}
	v := normalize.ToFloat(m.PurchaseROAS[0].Value)
	return &v
}

// FetchAds returns the account overview and per-day insights for r. The
// report is partial when only one of the two calls succeeds; an error is
// returned only when both fail.
func (c *MetaAdsClient) FetchAds(ctx context.Context, creds models.Credentials, r normalize.DateRange) (*models.AdReport, error) {
	ctx, span := util.StartSpan(ctx, "MetaAdsClient.FetchAds",
		attribute.String("range", r.Key()))
	defer span.End()

	if creds.AdAccountID == "" || creds.AdToken == "" {
		err := fatal(SourceMeta, 0, errors.New("ad account credentials missing"))
		util.RecordError(span, err)
		return nil, err
	}

	var (
		overview    *models.RawAdOverview
		daily       []models.RawAdDaily
		overviewErr error
		dailyErr    error
	)
	// both calls settle independently so one's retries do not starve the other
	var g errgroup.Group
	g.Go(func() error {
		overview, overviewErr = c.FetchOverview(ctx, creds, r)
		return nil
	})
	g.Go(func() error {
		daily, dailyErr = c.FetchDaily(ctx, creds, r)
		return nil
	})
	_ = g.Wait()

	if overviewErr != nil && dailyErr != nil {
		err := fmt.Errorf("overview: %v; daily: %w", overviewErr, dailyErr)
		util.RecordError(span, err)
		return nil, err
	}
	if overviewErr != nil {
		c.logger.Warn("Ad overview unavailable", zap.String("range", r.Key()), zap.Error(overviewErr))
	}
	if dailyErr != nil {
		c.logger.Warn("Daily ad insights unavailable", zap.String("range", r.Key()), zap.Error(dailyErr))
	}

	return &models.AdReport{Overview: overview, Daily: daily}, nil
}

// FetchOverview returns account-level totals for r, or nil when the account
// had no delivery.
func (c *MetaAdsClient) FetchOverview(ctx context.Context, creds models.Credentials, r normalize.DateRange) (*models.RawAdOverview, error) {
	params := c.baseParams(creds, r)
	params.Set("level", "account")
	params.Set("fields", metaOverviewFields)

	var resp metaInsightsResponse
	err := c.cfg.Retry.Do(ctx, SourceMeta, func(ctx context.Context) error {
		return getJSON(ctx, c.http, SourceMeta, c.insightsURL(creds)+"?"+params.Encode(), nil, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("ad overview: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}

	d := resp.Data[0]
	return &models.RawAdOverview{
		Spend:        normalize.ToDecimal(d.Spend),
		Clicks:       normalize.ToInt64(d.Clicks),
		Impressions:  normalize.ToInt64(d.Impressions),
		Reach:        normalize.ToInt64(d.Reach),
		CPC:          normalize.ToDecimal(d.CPC),
		CPM:          normalize.ToDecimal(d.CPM),
		CTR:          normalize.ToFloat(d.CTR),
		PurchaseROAS: d.roas(),
	}, nil
}

// FetchDaily returns one entry per day with delivery, following paging.next
func (c *MetaAdsClient) FetchDaily(ctx context.Context, creds models.Credentials, r normalize.DateRange) ([]models.RawAdDaily, error) {
	params := c.baseParams(creds, r)
	params.Set("level", "account")
	params.Set("fields", metaDailyFields)
	params.Set("time_increment", "1")
	params.Set("limit", "100")

	next := c.insightsURL(creds) + "?" + params.Encode()
	var daily []models.RawAdDaily
	for page := 0; next != "" && page < metaMaxPages; page++ {
		var resp metaInsightsResponse
		pageURL := next
		err := c.cfg.Retry.Do(ctx, SourceMeta, func(ctx context.Context) error {
			return getJSON(ctx, c.http, SourceMeta, pageURL, nil, &resp)
		})
		if err != nil {
			return nil, fmt.Errorf("daily ad insights page %d: %w", page+1, err)
		}

		for _, d := range resp.Data {
			entry := models.RawAdDaily{
				Date:       d.DateStart,
				Spend:      normalize.ToDecimal(d.Spend),
				Reach:      normalize.ToInt64(d.Reach),
				LinkClicks: normalize.ToInt64(d.InlineLinkClicks),
			}
			if roas := d.roas(); roas != nil {
				entry.ROAS = *roas
			}
			daily = append(daily, entry)
		}
		next = resp.Paging.Next
	}
	return daily, nil
}

func (c *MetaAdsClient) insightsURL(creds models.Credentials) string {
	account := creds.AdAccountID
	if !strings.HasPrefix(account, "act_") {
		account = "act_" + account
	}
	return fmt.Sprintf("%s/%s/insights", strings.TrimRight(c.cfg.BaseURL, "/"), account)
}

func (c *MetaAdsClient) baseParams(creds models.Credentials, r normalize.DateRange) url.Values {
	timeRange, _ := json.Marshal(map[string]string{"since": r.StartDate(), "until": r.EndDate()})
	params := url.Values{}
	params.Set("access_token", creds.AdToken)
	params.Set("time_range", string(timeRange))
	return params
}
