package sources

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Aniket17200/Profitfirst/internal/models"
	"github.com/Aniket17200/Profitfirst/internal/normalize"
	"github.com/Aniket17200/Profitfirst/internal/util"
)

// Bulk operation states reported by currentBulkOperation
const (
	bulkCreated   = "CREATED"
	bulkRunning   = "RUNNING"
	bulkCanceling = "CANCELING"
	bulkCompleted = "COMPLETED"
	bulkFailed    = "FAILED"
	bulkCanceled  = "CANCELED"
)

const orderFields = `id
createdAt
totalPriceSet { shopMoney { amount currencyCode } }
customer { id }
lineItems(first: 50) {
  edges { node { quantity product { id title } variant { id product { id title } } } }
}`

const ordersPageQuery = `query Orders($first: Int!, $after: String, $query: String!) {
  orders(first: $first, after: $after, query: $query, sortKey: CREATED_AT) {
    edges { node { ` + orderFields + ` } }
    pageInfo { hasNextPage endCursor }
  }
}`

const bulkOrdersQuery = `{ orders(query: "%s") { edges { node { __typename id createdAt totalPriceSet { shopMoney { amount currencyCode } } customer { id } lineItems { edges { node { __typename id quantity product { __typename id title } variant { __typename id product { __typename id title } } } } } } } } }`

const currentBulkQuery = `query { currentBulkOperation { id status errorCode url partialDataUrl } }`

const cancelBulkMutation = `mutation Cancel($id: ID!) { bulkOperationCancel(id: $id) { userErrors { message } } }`

const runBulkMutation = `mutation Run($query: String!) { bulkOperationRunQuery(query: $query) { bulkOperation { id status } userErrors { message } } }`

// ShopifyConfig tunes the order client
type ShopifyConfig struct {
	APIVersion        string
	PageSize          int
	BulkThresholdDays int
	Retry             RetryPolicy

	LockTTL         time.Duration
	CancelWait      time.Duration
	CancelChecks    int
	StartAttempts   int
	StartBackoff    time.Duration
	PollInitial     time.Duration
	PollMax         time.Duration
	MaxPollDuration time.Duration
}

// DefaultShopifyConfig returns production settings
func DefaultShopifyConfig() ShopifyConfig {
	return ShopifyConfig{
		APIVersion:        "2025-07",
		PageSize:          250,
		BulkThresholdDays: 14,
		Retry:             DefaultRetryPolicy(),
		LockTTL:           3 * time.Minute,
		CancelWait:        2 * time.Second,
		CancelChecks:      10,
		StartAttempts:     3,
		StartBackoff:      3 * time.Second,
		PollInitial:       2 * time.Second,
		PollMax:           8 * time.Second,
		MaxPollDuration:   2 * time.Minute,
	}
}

// Locker guards the per-shop bulk export slot
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, name, token string) error
}

// ShopifyClient fetches orders from the Shopify Admin GraphQL API
type ShopifyClient struct {
	cfg    ShopifyConfig
	http   *http.Client
	locker Locker
	logger *zap.Logger
}

// NewShopifyClient creates a new Shopify order client. httpClient and
// locker may be nil.
func NewShopifyClient(cfg ShopifyConfig, httpClient *http.Client, locker Locker) *ShopifyClient {
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 250
	}
	return &ShopifyClient{
		cfg:    cfg,
		http:   httpClient,
		locker: locker,
		logger: util.ComponentLogger(SourceShopify),
	}
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

type shopifyProduct struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type shopifyMoney struct {
	ShopMoney struct {
		Amount       string `json:"amount"`
		CurrencyCode string `json:"currencyCode"`
	} `json:"shopMoney"`
}

type shopifyLineItem struct {
	Typename string          `json:"__typename"`
	ID       string          `json:"id"`
	ParentID string          `json:"__parentId"`
	Quantity int             `json:"quantity"`
	Product  *shopifyProduct `json:"product"`
	Variant  *struct {
		ID      string          `json:"id"`
		Product *shopifyProduct `json:"product"`
	} `json:"variant"`
}

func (li shopifyLineItem) product() *shopifyProduct {
	if li.Product != nil && li.Product.ID != "" {
		return li.Product
	}
	if li.Variant != nil && li.Variant.Product != nil && li.Variant.Product.ID != "" {
		return li.Variant.Product
	}
	return nil
}

type shopifyOrder struct {
	ID            string       `json:"id"`
	CreatedAt     string       `json:"createdAt"`
	TotalPriceSet shopifyMoney `json:"totalPriceSet"`
	Customer      *struct {
		ID string `json:"id"`
	} `json:"customer"`
	LineItems struct {
		Edges []struct {
			Node shopifyLineItem `json:"node"`
		} `json:"edges"`
	} `json:"lineItems"`
}

type ordersPage struct {
	Orders struct {
		Edges []struct {
			Node shopifyOrder `json:"node"`
		} `json:"edges"`
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
	} `json:"orders"`
}

type bulkOperation struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	ErrorCode      string `json:"errorCode"`
	URL            string `json:"url"`
	PartialDataURL string `json:"partialDataUrl"`
}

// FetchOrders returns all orders created within r
func (c *ShopifyClient) FetchOrders(ctx context.Context, creds models.Credentials, r normalize.DateRange) ([]models.RawOrder, error) {
	ctx, span := util.StartSpan(ctx, "ShopifyClient.FetchOrders",
		attribute.String("range", r.Key()))
	defer span.End()

	if creds.StoreURL == "" || creds.StoreToken == "" {
		err := fatal(SourceShopify, 0, errors.New("store credentials missing"))
		util.RecordError(span, err)
		return nil, err
	}

	start, end := r.UpstreamBounds()
	filter := fmt.Sprintf("created_at:>='%s' AND created_at:<='%s'",
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))

	var (
		orders []models.RawOrder
		err    error
	)
	if r.Len()-1 <= c.cfg.BulkThresholdDays {
		orders, err = c.fetchPaginated(ctx, creds, filter)
	} else {
		orders, err = c.fetchBulk(ctx, creds, filter)
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("orders", len(orders)))
	return orders, nil
}

func (c *ShopifyClient) fetchPaginated(ctx context.Context, creds models.Credentials, filter string) ([]models.RawOrder, error) {
	var (
		orders []models.RawOrder
		cursor *string
		pages  int
	)
	for {
		vars := map[string]interface{}{
			"first": c.cfg.PageSize,
			"after": cursor,
			"query": filter,
		}
		var page ordersPage
		err := c.cfg.Retry.Do(ctx, SourceShopify, func(ctx context.Context) error {
			return c.graphql(ctx, creds, ordersPageQuery, vars, &page)
		})
		if err != nil {
			return nil, fmt.Errorf("orders page %d: %w", pages+1, err)
		}
		pages++

		for _, edge := range page.Orders.Edges {
			if order, ok := c.toRawOrder(edge.Node.ID, edge.Node, lineItemsOf(edge.Node)); ok {
				orders = append(orders, order)
			}
		}

		info := page.Orders.PageInfo
		if !info.HasNextPage || info.EndCursor == "" {
			break
		}
		next := info.EndCursor
		cursor = &next
	}

	c.logger.Debug("Fetched orders page by page",
		zap.String("shop", creds.StoreURL),
		zap.Int("pages", pages),
		zap.Int("orders", len(orders)))
	return orders, nil
}

func lineItemsOf(o shopifyOrder) []shopifyLineItem {
	items := make([]shopifyLineItem, 0, len(o.LineItems.Edges))
	for _, e := range o.LineItems.Edges {
		items = append(items, e.Node)
	}
	return items
}

// fetchBulk runs a bulk export: clear any active job, start ours, poll until
// done, then rebuild orders from the JSONL result.
func (c *ShopifyClient) fetchBulk(ctx context.Context, creds models.Credentials, filter string) ([]models.RawOrder, error) {
	if c.locker != nil {
		lockName := "shopify-bulk:" + creds.StoreURL
		token, err := c.locker.AcquireLock(ctx, lockName, c.cfg.LockTTL)
		switch {
		case err != nil:
			c.logger.Warn("Bulk lock unavailable, continuing without it",
				zap.String("shop", creds.StoreURL), zap.Error(err))
		case token == "":
			return nil, transient(SourceShopify, 0, ErrBulkBusy)
		default:
			defer func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := c.locker.ReleaseLock(releaseCtx, lockName, token); err != nil {
					c.logger.Warn("Failed to release bulk lock", zap.String("shop", creds.StoreURL), zap.Error(err))
				}
			}()
		}
	}

	if err := c.ensureNoActiveBulk(ctx, creds); err != nil {
		return nil, err
	}
	if err := c.startBulk(ctx, creds, fmt.Sprintf(bulkOrdersQuery, escapeGraphQL(filter))); err != nil {
		return nil, err
	}
	url, err := c.pollBulk(ctx, creds)
	if err != nil {
		return nil, err
	}
	if url == "" {
		// Completed with no matching objects.
		return []models.RawOrder{}, nil
	}

	var body []byte
	err = c.cfg.Retry.Do(ctx, SourceShopify, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fatal(SourceShopify, 0, err)
		}
		body, err = send(ctx, c.http, SourceShopify, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("download bulk result: %w", err)
	}

	orders, err := c.parseBulk(body)
	if err != nil {
		return nil, fatal(SourceShopify, 0, err)
	}
	c.logger.Info("Bulk export finished",
		zap.String("shop", creds.StoreURL),
		zap.Int("orders", len(orders)))
	return orders, nil
}

func isActiveBulk(status string) bool {
	return status == bulkCreated || status == bulkRunning || status == bulkCanceling
}

func (c *ShopifyClient) currentBulk(ctx context.Context, creds models.Credentials) (*bulkOperation, error) {
	var data struct {
		CurrentBulkOperation *bulkOperation `json:"currentBulkOperation"`
	}
	err := c.cfg.Retry.Do(ctx, SourceShopify, func(ctx context.Context) error {
		return c.graphql(ctx, creds, currentBulkQuery, nil, &data)
	})
	if err != nil {
		return nil, fmt.Errorf("current bulk operation: %w", err)
	}
	return data.CurrentBulkOperation, nil
}

func (c *ShopifyClient) ensureNoActiveBulk(ctx context.Context, creds models.Credentials) error {
	op, err := c.currentBulk(ctx, creds)
	if err != nil {
		return err
	}
	if op == nil || !isActiveBulk(op.Status) {
		return nil
	}

	c.logger.Info("Canceling active bulk operation",
		zap.String("shop", creds.StoreURL),
		zap.String("operation", op.ID),
		zap.String("status", op.Status))

	var cancelResp struct {
		BulkOperationCancel struct {
			UserErrors []gqlError `json:"userErrors"`
		} `json:"bulkOperationCancel"`
	}
	if err := c.graphql(ctx, creds, cancelBulkMutation, map[string]interface{}{"id": op.ID}, &cancelResp); err != nil {
		return fmt.Errorf("cancel bulk operation: %w", err)
	}

	for i := 0; i < c.cfg.CancelChecks; i++ {
		if err := sleep(ctx, c.cfg.CancelWait); err != nil {
			return transient(SourceShopify, 0, err)
		}
		cur, err := c.currentBulk(ctx, creds)
		if err != nil {
			return err
		}
		if cur == nil || !isActiveBulk(cur.Status) {
			return nil
		}
	}
	return transient(SourceShopify, 0, errors.New("previous bulk operation did not clear"))
}

func (c *ShopifyClient) startBulk(ctx context.Context, creds models.Credentials, query string) error {
	attempts := c.cfg.StartAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		var data struct {
			BulkOperationRunQuery struct {
				BulkOperation *bulkOperation `json:"bulkOperation"`
				UserErrors    []gqlError     `json:"userErrors"`
			} `json:"bulkOperationRunQuery"`
		}
		err := c.graphql(ctx, creds, runBulkMutation, map[string]interface{}{"query": query}, &data)
		if err != nil {
			if StatusCode(err) == http.StatusTooManyRequests && attempt < attempts {
				if err := sleep(ctx, time.Duration(attempt)*c.cfg.StartBackoff); err != nil {
					return transient(SourceShopify, 0, err)
				}
				continue
			}
			return fmt.Errorf("start bulk operation: %w", err)
		}

		userErrors := data.BulkOperationRunQuery.UserErrors
		if len(userErrors) == 0 {
			return nil
		}
		if strings.Contains(strings.ToLower(userErrors[0].Message), "already in progress") && attempt < attempts {
			if err := c.ensureNoActiveBulk(ctx, creds); err != nil {
				return err
			}
			if err := sleep(ctx, c.cfg.CancelWait); err != nil {
				return transient(SourceShopify, 0, err)
			}
			continue
		}
		return fatal(SourceShopify, 0, errors.New(joinMessages(userErrors)))
	}
	return transient(SourceShopify, 0, errors.New("bulk start failed after retries"))
}

// pollBulk waits for the running export, backing off 1.5x per check up to
// PollMax, and gives up after MaxPollDuration.
func (c *ShopifyClient) pollBulk(ctx context.Context, creds models.Credentials) (string, error) {
	started := time.Now()
	for n := 0; ; n++ {
		op, err := c.currentBulk(ctx, creds)
		if err != nil {
			return "", err
		}
		if op == nil {
			return "", fatal(SourceShopify, 0, errors.New("no bulk operation found"))
		}

		switch op.Status {
		case bulkCompleted:
			if op.URL != "" {
				return op.URL, nil
			}
			return op.PartialDataURL, nil
		case bulkFailed, bulkCanceled:
			return "", fatal(SourceShopify, 0, fmt.Errorf("bulk operation %s: %s", strings.ToLower(op.Status), op.ErrorCode))
		}

		if time.Since(started) >= c.cfg.MaxPollDuration {
			return "", transient(SourceShopify, 0, errors.New("bulk operation exceeded max poll duration"))
		}
		if err := sleep(ctx, c.pollInterval(n)); err != nil {
			return "", transient(SourceShopify, 0, err)
		}
	}
}

func (c *ShopifyClient) pollInterval(n int) time.Duration {
	if n > 5 {
		n = 5
	}
	d := time.Duration(float64(c.cfg.PollInitial) * math.Pow(1.5, float64(n)))
	if c.cfg.PollMax > 0 && d > c.cfg.PollMax {
		d = c.cfg.PollMax
	}
	return d
}

// parseBulk rebuilds orders from JSONL where line items point at their
// order through __parentId.
func (c *ShopifyClient) parseBulk(body []byte) ([]models.RawOrder, error) {
	var (
		orderIDs []string
		ordersBy = make(map[string]shopifyOrder)
		itemsBy  = make(map[string][]shopifyLineItem)
		skipped  int
	)

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var head struct {
			Typename string `json:"__typename"`
			ID       string `json:"id"`
			ParentID string `json:"__parentId"`
		}
		if err := json.Unmarshal(line, &head); err != nil || head.ID == "" {
			skipped++
			continue
		}

		switch head.Typename {
		case "Order":
			var o shopifyOrder
			if err := json.Unmarshal(line, &o); err != nil {
				skipped++
				continue
			}
			if _, seen := ordersBy[o.ID]; !seen {
				orderIDs = append(orderIDs, o.ID)
			}
			ordersBy[o.ID] = o
		case "LineItem":
			if head.ParentID == "" {
				continue
			}
			var li shopifyLineItem
			if err := json.Unmarshal(line, &li); err != nil {
				skipped++
				continue
			}
			itemsBy[head.ParentID] = append(itemsBy[head.ParentID], li)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read bulk result: %w", err)
	}
	if skipped > 0 {
		c.logger.Warn("Skipped malformed bulk lines", zap.Int("count", skipped))
	}

	orders := make([]models.RawOrder, 0, len(orderIDs))
	for _, id := range orderIDs {
		if order, ok := c.toRawOrder(id, ordersBy[id], itemsBy[id]); ok {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (c *ShopifyClient) toRawOrder(id string, o shopifyOrder, items []shopifyLineItem) (models.RawOrder, bool) {
	createdAt, err := normalize.ParseTimestamp(o.CreatedAt)
	if err != nil {
		c.logger.Warn("Skipping order with unparseable createdAt",
			zap.String("order_id", id), zap.String("created_at", o.CreatedAt))
		return models.RawOrder{}, false
	}

	order := models.RawOrder{
		ID:          id,
		CreatedAt:   createdAt,
		TotalAmount: normalize.ToDecimal(o.TotalPriceSet.ShopMoney.Amount),
		Currency:    o.TotalPriceSet.ShopMoney.CurrencyCode,
		LineItems:   make([]models.LineItem, 0, len(items)),
	}
	if o.Customer != nil {
		order.CustomerID = o.Customer.ID
	}
	for _, li := range items {
		p := li.product()
		if p == nil {
			continue
		}
		title := p.Title
		if title == "" {
			title = "Unknown"
		}
		order.LineItems = append(order.LineItems, models.LineItem{
			ProductID: normalize.ProductID(p.ID),
			Title:     title,
			Quantity:  li.Quantity,
		})
	}
	return order, true
}

func (c *ShopifyClient) endpoint(storeURL string) string {
	base := strings.TrimRight(storeURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return fmt.Sprintf("%s/admin/api/%s/graphql.json", base, c.cfg.APIVersion)
}

// graphql posts one query and decodes its data into dst. GraphQL-level
// errors are fatal.
func (c *ShopifyClient) graphql(ctx context.Context, creds models.Credentials, query string, vars map[string]interface{}, dst interface{}) error {
	payload := map[string]interface{}{"query": query}
	if vars != nil {
		payload["variables"] = vars
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fatal(SourceShopify, 0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(creds.StoreURL), bytes.NewReader(raw))
	if err != nil {
		return fatal(SourceShopify, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", creds.StoreToken)

	body, err := send(ctx, c.http, SourceShopify, req)
	if err != nil {
		return err
	}

	var resp gqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fatal(SourceShopify, 0, fmt.Errorf("decode response: %w", err))
	}
	if len(resp.Errors) > 0 {
		if isThrottled(resp.Errors) {
			return transient(SourceShopify, http.StatusTooManyRequests, errors.New(joinMessages(resp.Errors)))
		}
		return fatal(SourceShopify, 0, errors.New(joinMessages(resp.Errors)))
	}
	if dst == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, dst); err != nil {
		return fatal(SourceShopify, 0, fmt.Errorf("decode data: %w", err))
	}
	return nil
}

func isThrottled(errs []gqlError) bool {
	for _, e := range errs {
		if strings.Contains(strings.ToLower(e.Message), "throttled") {
			return true
		}
	}
	return false
}

func joinMessages(errs []gqlError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

func escapeGraphQL(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return r.Replace(s)
}
