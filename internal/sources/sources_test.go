package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aniket17200/Profitfirst/internal/models"
	"github.com/Aniket17200/Profitfirst/internal/normalize"
)

var fastRetry = RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}

func mustRange(t *testing.T, start, end string) normalize.DateRange {
	t.Helper()
	r, err := normalize.ParseDateRange(start, end, time.Now())
	require.NoError(t, err)
	return r
}

func TestRetryPolicy_RetriesTransientOnly(t *testing.T) {
	calls := 0
	err := fastRetry.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return transient("test", 503, errors.New("unavailable"))
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, calls)

	calls = 0
	err = fastRetry.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return fatal("test", 401, errors.New("bad token"))
	})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 1, calls)

	calls = 0
	err = fastRetry.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return transient("test", 0, errors.New("reset"))
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryPolicy_StopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Hour}
	err := policy.Do(ctx, "test", func(ctx context.Context) error {
		calls++
		return transient("test", 0, errors.New("timeout"))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestSend_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
		fatal     bool
	}{
		{http.StatusOK, false, false},
		{http.StatusTooManyRequests, true, false},
		{http.StatusBadGateway, true, false},
		{http.StatusUnauthorized, false, true},
		{http.StatusNotFound, false, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{}`))
			}))
			defer srv.Close()

			req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
			require.NoError(t, err)
			_, err = send(context.Background(), srv.Client(), "test", req)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, tt.fatal, IsFatal(err))
			if tt.status != http.StatusOK {
				assert.Equal(t, tt.status, StatusCode(err))
			}
		})
	}
}

type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

func decodeGQL(t *testing.T, r *http.Request) gqlRequest {
	var req gqlRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testShopifyConfig() ShopifyConfig {
	cfg := DefaultShopifyConfig()
	cfg.Retry = fastRetry
	cfg.CancelWait = time.Millisecond
	cfg.StartBackoff = time.Millisecond
	cfg.PollInitial = time.Millisecond
	cfg.PollMax = 2 * time.Millisecond
	cfg.MaxPollDuration = time.Second
	return cfg
}

func TestShopify_PaginatedFollowsCursor(t *testing.T) {
	var cursors []interface{}
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/api/2025-07/graphql.json", r.URL.Path)
		assert.Equal(t, "shp-token", r.Header.Get("X-Shopify-Access-Token"))

		req := decodeGQL(t, r)
		require.Contains(t, req.Query, "orders(first: $first")
		assert.Contains(t, req.Variables["query"], "created_at:>='2025-09-30T18:30:00Z'")

		mu.Lock()
		cursors = append(cursors, req.Variables["after"])
		page := len(cursors)
		mu.Unlock()

		if page == 1 {
			writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"orders": map[string]interface{}{
				"edges": []interface{}{
					map[string]interface{}{"node": map[string]interface{}{
						"id":            "gid://shopify/Order/1",
						"createdAt":     "2025-10-02T10:00:00Z",
						"totalPriceSet": map[string]interface{}{"shopMoney": map[string]interface{}{"amount": "1000.00", "currencyCode": "INR"}},
						"customer":      map[string]interface{}{"id": "gid://shopify/Customer/9"},
						"lineItems": map[string]interface{}{"edges": []interface{}{
							map[string]interface{}{"node": map[string]interface{}{"quantity": 2, "product": map[string]interface{}{"id": "gid://shopify/Product/55", "title": "Mug"}}},
							map[string]interface{}{"node": map[string]interface{}{"quantity": 1, "product": nil, "variant": map[string]interface{}{"id": "v1", "product": map[string]interface{}{"id": "gid://shopify/Product/56", "title": "Lid"}}}},
							map[string]interface{}{"node": map[string]interface{}{"quantity": 1, "product": nil}},
						}},
					}},
				},
				"pageInfo": map[string]interface{}{"hasNextPage": true, "endCursor": "c1"},
			}}})
			return
		}
		writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"orders": map[string]interface{}{
			"edges": []interface{}{
				map[string]interface{}{"node": map[string]interface{}{
					"id":            "gid://shopify/Order/2",
					"createdAt":     "2025-10-03T10:00:00Z",
					"totalPriceSet": map[string]interface{}{"shopMoney": map[string]interface{}{"amount": "250.50"}},
					"customer":      nil,
					"lineItems":     map[string]interface{}{"edges": []interface{}{}},
				}},
			},
			"pageInfo": map[string]interface{}{"hasNextPage": false, "endCursor": "c2"},
		}}})
	}))
	defer srv.Close()

	client := NewShopifyClient(testShopifyConfig(), srv.Client(), nil)
	creds := models.Credentials{StoreURL: srv.URL, StoreToken: "shp-token"}

	orders, err := client.FetchOrders(context.Background(), creds, mustRange(t, "2025-10-01", "2025-10-07"))
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, []interface{}{nil, "c1"}, cursors)
	assert.Equal(t, "1000", orders[0].TotalAmount.String())
	assert.Equal(t, "gid://shopify/Customer/9", orders[0].CustomerID)
	require.Len(t, orders[0].LineItems, 2)
	assert.Equal(t, "55", orders[0].LineItems[0].ProductID)
	assert.Equal(t, 2, orders[0].LineItems[0].Quantity)
	assert.Equal(t, "56", orders[0].LineItems[1].ProductID)
	assert.Empty(t, orders[1].CustomerID)
	assert.Equal(t, "250.5", orders[1].TotalAmount.String())
}

func TestShopify_GraphQLErrorsAreFatal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, map[string]interface{}{"errors": []interface{}{map[string]interface{}{"message": "Field 'x' doesn't exist"}}})
	}))
	defer srv.Close()

	client := NewShopifyClient(testShopifyConfig(), srv.Client(), nil)
	_, err := client.FetchOrders(context.Background(),
		models.Credentials{StoreURL: srv.URL, StoreToken: "t"}, mustRange(t, "2025-10-01", "2025-10-02"))
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestShopify_MissingCredentials(t *testing.T) {
	client := NewShopifyClient(testShopifyConfig(), nil, nil)
	_, err := client.FetchOrders(context.Background(), models.Credentials{}, mustRange(t, "2025-10-01", "2025-10-02"))
	assert.True(t, IsFatal(err))
}

type bulkServer struct {
	mu       sync.Mutex
	polls    int
	canceled bool
	started  bool
	active   bool
	url      string
}

func (b *bulkServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/download" {
			lines := []string{
				`{"__typename":"Order","id":"gid://shopify/Order/1","createdAt":"2025-09-10T05:00:00Z","totalPriceSet":{"shopMoney":{"amount":"500.00","currencyCode":"INR"}},"customer":{"id":"c1"}}`,
				`{"__typename":"LineItem","id":"li1","quantity":3,"product":{"__typename":"Product","id":"gid://shopify/Product/7","title":"Tee"},"__parentId":"gid://shopify/Order/1"}`,
				`not json`,
				`{"__typename":"Order","id":"gid://shopify/Order/2","createdAt":"2025-09-20T05:00:00Z","totalPriceSet":{"shopMoney":{"amount":"200"}},"customer":null}`,
				`{"__typename":"LineItem","id":"li2","quantity":1,"product":null,"variant":{"__typename":"ProductVariant","id":"v2","product":{"__typename":"Product","id":"gid://shopify/Product/8","title":"Cap"}},"__parentId":"gid://shopify/Order/2"}`,
				``,
			}
			_, _ = w.Write([]byte(strings.Join(lines, "\n")))
			return
		}

		req := decodeGQL(t, r)
		b.mu.Lock()
		defer b.mu.Unlock()

		switch {
		case strings.Contains(req.Query, "currentBulkOperation"):
			switch {
			case b.active && !b.started:
				if b.canceled {
					b.active = false
					writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"currentBulkOperation": map[string]interface{}{"id": "old", "status": "CANCELED"}}})
					return
				}
				writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"currentBulkOperation": map[string]interface{}{"id": "old", "status": "RUNNING"}}})
			case b.started:
				b.polls++
				status := "RUNNING"
				url := ""
				if b.polls >= 2 {
					status = "COMPLETED"
					url = b.url
				}
				writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"currentBulkOperation": map[string]interface{}{"id": "new", "status": status, "url": url}}})
			default:
				writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"currentBulkOperation": nil}})
			}
		case strings.Contains(req.Query, "bulkOperationCancel"):
			assert.Equal(t, "old", req.Variables["id"])
			b.canceled = true
			writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"bulkOperationCancel": map[string]interface{}{"userErrors": []interface{}{}}}})
		case strings.Contains(req.Query, "bulkOperationRunQuery"):
			assert.Contains(t, req.Variables["query"], `created_at:>=`)
			b.started = true
			writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"bulkOperationRunQuery": map[string]interface{}{
				"bulkOperation": map[string]interface{}{"id": "new", "status": "CREATED"},
				"userErrors":    []interface{}{},
			}}})
		default:
			t.Errorf("unexpected query: %s", req.Query)
		}
	}
}

func TestShopify_BulkExportCancelsActiveAndParsesJSONL(t *testing.T) {
	b := &bulkServer{active: true}
	srv := httptest.NewServer(b.handler(t))
	defer srv.Close()
	b.url = srv.URL + "/download"

	client := NewShopifyClient(testShopifyConfig(), srv.Client(), nil)
	orders, err := client.FetchOrders(context.Background(),
		models.Credentials{StoreURL: srv.URL, StoreToken: "t"}, mustRange(t, "2025-09-01", "2025-09-30"))
	require.NoError(t, err)

	assert.True(t, b.canceled)
	require.Len(t, orders, 2)
	assert.Equal(t, "gid://shopify/Order/1", orders[0].ID)
	assert.Equal(t, "c1", orders[0].CustomerID)
	require.Len(t, orders[0].LineItems, 1)
	assert.Equal(t, "7", orders[0].LineItems[0].ProductID)
	assert.Equal(t, 3, orders[0].LineItems[0].Quantity)
	assert.Equal(t, "8", orders[1].LineItems[0].ProductID)
	assert.Equal(t, "200", orders[1].TotalAmount.String())
}

func TestShopify_BulkCompletedWithoutResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeGQL(t, r)
		switch {
		case strings.Contains(req.Query, "bulkOperationRunQuery"):
			writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"bulkOperationRunQuery": map[string]interface{}{"userErrors": []interface{}{}}}})
		default:
			writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"currentBulkOperation": map[string]interface{}{"id": "x", "status": "COMPLETED", "url": nil}}})
		}
	}))
	defer srv.Close()

	client := NewShopifyClient(testShopifyConfig(), srv.Client(), nil)
	orders, err := client.FetchOrders(context.Background(),
		models.Credentials{StoreURL: srv.URL, StoreToken: "t"}, mustRange(t, "2025-08-01", "2025-09-30"))
	require.NoError(t, err)
	assert.Empty(t, orders)
}

type stubLocker struct {
	token    string
	released []string
}

func (l *stubLocker) AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, error) {
	return l.token, nil
}

func (l *stubLocker) ReleaseLock(ctx context.Context, name, token string) error {
	l.released = append(l.released, name)
	return nil
}

func TestShopify_BulkLockHeldElsewhere(t *testing.T) {
	client := NewShopifyClient(testShopifyConfig(), nil, &stubLocker{})
	_, err := client.FetchOrders(context.Background(),
		models.Credentials{StoreURL: "shop.example.com", StoreToken: "t"}, mustRange(t, "2025-08-01", "2025-09-30"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBulkBusy)
	assert.True(t, IsTransient(err))
}

func TestShopify_PollInterval(t *testing.T) {
	client := NewShopifyClient(DefaultShopifyConfig(), nil, nil)
	assert.Equal(t, 2*time.Second, client.pollInterval(0))
	assert.Equal(t, 3*time.Second, client.pollInterval(1))
	assert.Equal(t, 4500*time.Millisecond, client.pollInterval(2))
	assert.Equal(t, 8*time.Second, client.pollInterval(4))
	assert.Equal(t, 8*time.Second, client.pollInterval(20))
}

func TestMeta_FetchAds(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/act_123/insights", r.URL.Path)
		assert.Equal(t, "ad-token", r.URL.Query().Get("access_token"))
		assert.Equal(t, `{"since":"2025-10-01","until":"2025-10-03"}`, r.URL.Query().Get("time_range"))

		if r.URL.Query().Get("time_increment") != "1" {
			writeJSON(w, map[string]interface{}{"data": []interface{}{map[string]interface{}{
				"spend": "1,500.50", "clicks": "120", "impressions": "10000", "reach": "8000",
				"cpc": "12.5", "cpm": "150", "ctr": "1.2",
				"purchase_roas": []interface{}{map[string]interface{}{"action_type": "omni_purchase", "value": "3.25"}},
			}}})
			return
		}
		if r.URL.Query().Get("after") == "" {
			writeJSON(w, map[string]interface{}{
				"data": []interface{}{
					map[string]interface{}{"date_start": "2025-10-01", "spend": "500", "reach": "100", "inline_link_clicks": "10"},
					map[string]interface{}{"date_start": "2025-10-02", "spend": "600.50", "reach": "200", "inline_link_clicks": "20"},
				},
				"paging": map[string]interface{}{"next": srvURL + r.URL.Path + "?" + r.URL.RawQuery + "&after=p2"},
			})
			return
		}
		writeJSON(w, map[string]interface{}{"data": []interface{}{
			map[string]interface{}{"date_start": "2025-10-03", "spend": 400, "reach": 50, "inline_link_clicks": 5,
				"purchase_roas": []interface{}{map[string]interface{}{"value": "2"}}},
		}})
	}))
	defer srv.Close()
	srvURL = srv.URL

	client := NewMetaAdsClient(MetaConfig{BaseURL: srv.URL, Retry: fastRetry}, srv.Client())
	report, err := client.FetchAds(context.Background(),
		models.Credentials{AdAccountID: "123", AdToken: "ad-token"}, mustRange(t, "2025-10-01", "2025-10-03"))
	require.NoError(t, err)

	require.NotNil(t, report.Overview)
	assert.Equal(t, "1500.5", report.Overview.Spend.String())
	assert.Equal(t, int64(120), report.Overview.Clicks)
	require.NotNil(t, report.Overview.PurchaseROAS)
	assert.InDelta(t, 3.25, *report.Overview.PurchaseROAS, 1e-9)

	require.Len(t, report.Daily, 3)
	assert.Equal(t, "2025-10-03", report.Daily[2].Date)
	assert.Equal(t, "400", report.Daily[2].Spend.String())
	assert.InDelta(t, 2.0, report.Daily[2].ROAS, 1e-9)
}

func TestMeta_BothCallsFail(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewMetaAdsClient(MetaConfig{BaseURL: srv.URL, Retry: fastRetry}, srv.Client())
	_, err := client.FetchAds(context.Background(),
		models.Credentials{AdAccountID: "act_1", AdToken: "t"}, mustRange(t, "2025-10-01", "2025-10-03"))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(6), atomic.LoadInt32(&calls), "three attempts per call")
}

func TestMeta_OverviewAndDailyRunConcurrently(t *testing.T) {
	var inFlight, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(150 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		writeJSON(w, map[string]interface{}{"data": []interface{}{
			map[string]interface{}{"date_start": "2025-10-01", "spend": "100"},
		}})
	}))
	defer srv.Close()

	// sequential calls would need ~300ms and overrun the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	client := NewMetaAdsClient(MetaConfig{BaseURL: srv.URL, Retry: fastRetry}, srv.Client())
	report, err := client.FetchAds(ctx,
		models.Credentials{AdAccountID: "1", AdToken: "t"}, mustRange(t, "2025-10-01", "2025-10-01"))
	require.NoError(t, err)
	assert.NotNil(t, report.Overview)
	assert.Len(t, report.Daily, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))
}

func TestShiprocket_PagesUntilOlderThanRange(t *testing.T) {
	var pages []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sr-token", r.Header.Get("Authorization"))
		mu.Lock()
		pages = append(pages, r.URL.Query().Get("page"))
		mu.Unlock()

		switch r.URL.Query().Get("page") {
		case "1":
			writeJSON(w, map[string]interface{}{"data": []interface{}{
				map[string]interface{}{"id": 11, "order_id": "A1", "created_at": "2025-10-08 09:00:00", "status": "DELIVERED",
					"charges": map[string]interface{}{"freight_charges": "90", "cod_charges": "10"}},
				map[string]interface{}{"id": 12, "order_id": "A2", "created_at": "05 Oct 2025, 11:30 AM", "status": "RTO INITIATED",
					"charges": map[string]interface{}{"freight_charges": 60.5, "cod_charges": nil}},
			}})
		case "2":
			writeJSON(w, map[string]interface{}{"data": []interface{}{
				map[string]interface{}{"id": 13, "order_id": "A3", "created_at": "2025-10-01 00:10:00", "status": "IN TRANSIT",
					"charges": map[string]interface{}{"freight_charges": "40", "cod_charges": "0"}},
				map[string]interface{}{"id": 14, "order_id": "A4", "created_at": "2025-09-30 23:50:00", "status": "DELIVERED",
					"charges": map[string]interface{}{"freight_charges": "999", "cod_charges": "0"}},
			}})
		default:
			writeJSON(w, map[string]interface{}{"data": []interface{}{
				map[string]interface{}{"id": 15, "created_at": "2025-09-20 10:00:00", "status": "DELIVERED"},
				map[string]interface{}{"id": 16, "created_at": "2025-09-19 10:00:00", "status": "DELIVERED"},
			}})
		}
	}))
	defer srv.Close()

	client := NewShiprocketClient(ShiprocketConfig{BaseURL: srv.URL, PageSize: 2, Retry: fastRetry}, srv.Client())
	shipments, err := client.FetchShipments(context.Background(),
		models.Credentials{LogisticsToken: "sr-token"}, mustRange(t, "2025-10-01", "2025-10-07"))
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3"}, pages)
	require.Len(t, shipments, 2)
	assert.Equal(t, "12", shipments[0].ID)
	assert.Equal(t, models.ShipmentRTO, shipments[0].Status)
	assert.Equal(t, "60.5", shipments[0].Cost().String())
	assert.Equal(t, "A3", shipments[1].OrderID)
	assert.Equal(t, models.ShipmentInTransit, shipments[1].Status)
}

func TestShiprocket_FatalOnUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewShiprocketClient(ShiprocketConfig{BaseURL: srv.URL, Retry: fastRetry}, srv.Client())
	_, err := client.FetchShipments(context.Background(),
		models.Credentials{LogisticsToken: "bad"}, mustRange(t, "2025-10-01", "2025-10-07"))
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
}

func TestShipmentStatus(t *testing.T) {
	tests := map[string]models.ShipmentStatus{
		"DELIVERED":        models.ShipmentDelivered,
		"Delivered":        models.ShipmentDelivered,
		"RTO DELIVERED":    models.ShipmentRTO,
		"RTO IN TRANSIT":   models.ShipmentRTO,
		"UNDELIVERED":      models.ShipmentNDR,
		"NDR":              models.ShipmentNDR,
		"IN TRANSIT":       models.ShipmentInTransit,
		"OUT FOR DELIVERY": models.ShipmentInTransit,
		"PICKED UP":        models.ShipmentInTransit,
		"CANCELED":         models.ShipmentOther,
		"":                 models.ShipmentOther,
	}
	for label, want := range tests {
		assert.Equal(t, want, ShipmentStatus(label), label)
	}
}
