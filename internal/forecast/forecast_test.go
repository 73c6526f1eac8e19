package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func month(y int, m time.Month, revenue, orders, cogs, ads, shipping string) MonthlyMetrics {
	start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return MonthlyMetrics{
		Key:    MonthKey(start),
		Start:  start,
		Values: NewMonthValues(dec(revenue), dec(orders), dec(cogs), dec(ads), dec(shipping)),
	}
}

func sampleHistory() []MonthlyMetrics {
	return []MonthlyMetrics{
		month(2025, time.August, "100000", "100", "20000", "10000", "5000"),
		month(2025, time.September, "110000", "110", "22000", "11000", "5500"),
	}
}

func TestGrowthRate(t *testing.T) {
	tests := []struct {
		name     string
		revenues []string
		want     string
	}{
		{"single month uses default", []string{"100"}, "0.05"},
		{"no history uses default", nil, "0.05"},
		{"ten percent", []string{"100", "110"}, "0.1"},
		{"clamped high", []string{"100", "150"}, "0.3"},
		{"clamped low", []string{"100", "50"}, "-0.2"},
		{"zero prior month contributes nothing", []string{"0", "100"}, "0"},
		{"averaged over transitions", []string{"100", "110", "121"}, "0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var history []MonthlyMetrics
			for i, r := range tt.revenues {
				history = append(history, month(2025, time.Month(i+1), r, "1", "0", "0", "0"))
			}
			got := GrowthRate(history)
			assert.True(t, got.Equal(dec(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestStatistical(t *testing.T) {
	months := Statistical(sampleHistory(), 3, time.Now())
	require.Len(t, months, 3)

	first := months[0]
	assert.Equal(t, "October", first.Key)
	assert.True(t, first.IsPrediction)
	assert.True(t, first.Values.Revenue.Equal(dec("118800")), first.Values.Revenue.String())
	assert.True(t, first.Values.Orders.Equal(dec("119")), first.Values.Orders.String())
	assert.True(t, first.Values.AOV.Equal(dec("1000")), first.Values.AOV.String())
	assert.True(t, first.Values.COGS.Equal(dec("23760")))
	assert.True(t, first.Values.GrossProfit.Equal(dec("95040")))
	assert.True(t, first.Values.Ads.Equal(dec("11880")))
	assert.True(t, first.Values.Shipping.Equal(dec("5940")))
	assert.True(t, first.Values.NetProfit.Equal(dec("77220")))

	assert.Equal(t, "November", months[1].Key)
	assert.True(t, months[1].Values.Revenue.Equal(dec("127600")))
	assert.Equal(t, "December", months[2].Key)
	assert.True(t, months[2].Values.Revenue.Equal(dec("136400")))
}

func TestStatistical_ZeroOrdersKeepsLastAOV(t *testing.T) {
	history := []MonthlyMetrics{month(2025, time.March, "0", "0", "0", "0", "0")}
	history[0].Values.AOV = dec("500")

	months := Statistical(history, 1, time.Now())
	require.Len(t, months, 1)
	assert.Equal(t, "April", months[0].Key)
	assert.True(t, months[0].Values.AOV.Equal(dec("500")))
	assert.True(t, months[0].Values.Revenue.IsZero())
}

func TestStatistical_EmptyHistoryStartsNextMonth(t *testing.T) {
	now := time.Date(2025, time.December, 15, 0, 0, 0, 0, time.UTC)
	months := Statistical(nil, 2, now)
	require.Len(t, months, 2)
	assert.Equal(t, "January", months[0].Key)
	assert.Equal(t, "February", months[1].Key)
}

func validReply(t *testing.T, n int) string {
	t.Helper()
	type item struct {
		Key    string             `json:"key"`
		Values map[string]float64 `json:"values"`
	}
	var items []item
	for i := 0; i < n; i++ {
		items = append(items, item{Key: "M", Values: map[string]float64{
			"revenue": 120000, "orders": 120, "aov": 1000, "cogs": 24000,
			"grossProfit": 96000, "ads": 12000, "shipping": 6000, "netProfit": 78000,
		}})
	}
	raw, err := json.Marshal(map[string]interface{}{"predictions": items})
	require.NoError(t, err)
	return string(raw)
}

func TestEstimate_ModelAssisted(t *testing.T) {
	m := &mockCompleter{}
	m.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "predict the next 3 months")
	})).Return(validReply(t, 3), nil).Once()

	f := NewEstimator(m).Estimate(context.Background(), sampleHistory(), true)
	assert.Equal(t, MethodModelAssisted, f.Method)
	require.Len(t, f.Months, 3)
	assert.True(t, f.Months[0].Values.Revenue.Equal(dec("120000")))
	assert.True(t, f.Months[2].IsPrediction)
	assert.Equal(t, "October", f.Months[0].Key)
	assert.Equal(t, time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC), f.Months[2].Start)
	m.AssertExpectations(t)
}

func TestEstimate_FallsBackSilently(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"completer error", "", errors.New("upstream down")},
		{"wrong month count", "", nil},
		{"malformed json", "not json", nil},
		{"missing key", `{"predictions":[{"key":"A","values":{"revenue":1}},{"key":"B","values":{}},{"key":"C"}]}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := tt.reply
			if tt.name == "wrong month count" {
				reply = validReply(t, 2)
			}
			m := &mockCompleter{}
			m.On("Complete", mock.Anything, mock.Anything).Return(reply, tt.err).Once()

			f := NewEstimator(m).Estimate(context.Background(), sampleHistory(), true)
			assert.Equal(t, MethodStatistical, f.Method)
			require.Len(t, f.Months, 3)
			assert.True(t, f.Months[0].Values.Revenue.Equal(dec("118800")))
			m.AssertExpectations(t)
		})
	}
}

func TestEstimate_ModelTimeout(t *testing.T) {
	m := &mockCompleter{}
	m.On("Complete", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return("", context.DeadlineExceeded).Once()

	start := time.Now()
	f := NewEstimator(m, WithModelTimeout(20*time.Millisecond)).Estimate(context.Background(), sampleHistory(), true)
	assert.Equal(t, MethodStatistical, f.Method)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestEstimate_StatisticalWithoutModel(t *testing.T) {
	m := &mockCompleter{}
	f := NewEstimator(m, WithHorizon(2)).Estimate(context.Background(), sampleHistory(), false)
	assert.Equal(t, MethodStatistical, f.Method)
	assert.Len(t, f.Months, 2)
	m.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)

	f = NewEstimator(nil).Estimate(context.Background(), sampleHistory(), true)
	assert.Equal(t, MethodStatistical, f.Method)
}

func TestParsePredictions(t *testing.T) {
	fenced := "```json\n" + validReply(t, 1) + "\n```"
	months, err := ParsePredictions(fenced, 1)
	require.NoError(t, err)
	assert.Equal(t, "M", months[0].Key)

	neg := `{"predictions":[{"key":"A","values":{"revenue":1,"orders":-1,"aov":1,"cogs":1,"grossProfit":1,"ads":1,"shipping":1,"netProfit":1}}]}`
	_, err = ParsePredictions(neg, 1)
	assert.ErrorIs(t, err, ErrInvalidPrediction)

	nan := `{"predictions":[{"key":"A","values":{"revenue":"NaN","orders":1,"aov":1,"cogs":1,"grossProfit":1,"ads":1,"shipping":1,"netProfit":1}}]}`
	_, err = ParsePredictions(nan, 1)
	assert.ErrorIs(t, err, ErrInvalidPrediction)
}

func TestOpenAIClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-3.5-turbo", req.Model)
		assert.Equal(t, "json_object", req.ResponseFormat["type"])
		if assert.Len(t, req.Messages, 1) {
			assert.Equal(t, "hello", req.Messages[0].Content)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"predictions\":[]}"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", Endpoint: srv.URL}, srv.Client())
	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"predictions":[]}`, out)
}

func TestOpenAIClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", Endpoint: srv.URL}, srv.Client())
	_, err := c.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	_, err = NewOpenAIClient(OpenAIConfig{}, nil).Complete(context.Background(), "hello")
	assert.Error(t, err)
}
