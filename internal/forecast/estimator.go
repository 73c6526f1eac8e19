package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Aniket17200/Profitfirst/internal/util"
)

// Completer sends a prompt to a language model and returns its raw reply
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

const predictionPrompt = `You are a financial analyst. Based on the monthly history below, predict the next %d months.
Return JSON with root key "predictions" as an array of exactly %d items, in chronological order.
Each item: { "key": "Month Name", "values": { "revenue", "orders", "aov", "cogs", "grossProfit", "ads", "shipping", "netProfit" } } with plain numbers.
History:
%s`

// Estimator predicts future months from monthly history
type Estimator struct {
	completer Completer
	horizon   int
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures an Estimator
type Option func(*Estimator)

// WithHorizon sets the number of predicted months
func WithHorizon(n int) Option {
	return func(e *Estimator) {
		if n > 0 {
			e.horizon = n
		}
	}
}

// WithModelTimeout bounds a single model call
func WithModelTimeout(d time.Duration) Option {
	return func(e *Estimator) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) { e.now = now }
}

// NewEstimator creates an Estimator. A nil completer disables the
// model-assisted strategy.
func NewEstimator(completer Completer, opts ...Option) *Estimator {
	e := &Estimator{
		completer: completer,
		horizon:   DefaultHorizon,
		timeout:   15 * time.Second,
		now:       time.Now,
		logger:    util.ComponentLogger("forecast"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Horizon returns the number of months each forecast covers
func (e *Estimator) Horizon() int {
	return e.horizon
}

// Estimate never fails. When useModel is set the language model is asked
// first and any failure falls back to the statistical strategy.
func (e *Estimator) Estimate(ctx context.Context, history []MonthlyMetrics, useModel bool) Forecast {
	ctx, span := util.StartSpan(ctx, "Estimator.Estimate",
		attribute.Int("history_months", len(history)),
		attribute.Bool("use_model", useModel))
	defer span.End()

	if useModel && e.completer != nil {
		months, err := e.modelAssisted(ctx, history)
		if err == nil {
			util.ForecastsTotal.WithLabelValues(string(MethodModelAssisted)).Inc()
			return Forecast{Method: MethodModelAssisted, Months: months}
		}
		e.logger.Warn("Model forecast failed, using statistical fallback", zap.Error(err))
		util.ForecastsTotal.WithLabelValues("model_fallback").Inc()
	}

	util.ForecastsTotal.WithLabelValues(string(MethodStatistical)).Inc()
	return Forecast{Method: MethodStatistical, Months: Statistical(history, e.horizon, e.now())}
}

func (e *Estimator) modelAssisted(ctx context.Context, history []MonthlyMetrics) ([]MonthlyMetrics, error) {
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reply, err := e.completer.Complete(ctx, fmt.Sprintf(predictionPrompt, e.horizon, e.horizon, data))
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}

	months, err := ParsePredictions(reply, e.horizon)
	if err != nil {
		return nil, err
	}

	base := nextMonthBase(history, e.now())
	for i := range months {
		months[i].Start = base.AddDate(0, i, 0)
		months[i].Key = MonthKey(months[i].Start)
	}
	return months, nil
}

// ErrInvalidPrediction is returned for model output that fails validation
var ErrInvalidPrediction = errors.New("invalid prediction")

type rawValues struct {
	Revenue     *decimal.Decimal `json:"revenue"`
	Orders      *decimal.Decimal `json:"orders"`
	AOV         *decimal.Decimal `json:"aov"`
	COGS        *decimal.Decimal `json:"cogs"`
	GrossProfit *decimal.Decimal `json:"grossProfit"`
	Ads         *decimal.Decimal `json:"ads"`
	Shipping    *decimal.Decimal `json:"shipping"`
	NetProfit   *decimal.Decimal `json:"netProfit"`
}

type rawPrediction struct {
	Key    string     `json:"key"`
	Values *rawValues `json:"values"`
}

// ParsePredictions validates a model reply: exactly horizon items, every
// value present and numeric, non-negative orders.
func ParsePredictions(reply string, horizon int) ([]MonthlyMetrics, error) {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")

	var body struct {
		Predictions []rawPrediction `json:"predictions"`
	}
	if err := json.Unmarshal([]byte(reply), &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrediction, err)
	}
	if len(body.Predictions) != horizon {
		return nil, fmt.Errorf("%w: got %d months, want %d", ErrInvalidPrediction, len(body.Predictions), horizon)
	}

	out := make([]MonthlyMetrics, 0, horizon)
	for i, p := range body.Predictions {
		v := p.Values
		if v == nil {
			return nil, fmt.Errorf("%w: month %d has no values", ErrInvalidPrediction, i+1)
		}
		fields := map[string]*decimal.Decimal{
			"revenue": v.Revenue, "orders": v.Orders, "aov": v.AOV, "cogs": v.COGS,
			"grossProfit": v.GrossProfit, "ads": v.Ads, "shipping": v.Shipping, "netProfit": v.NetProfit,
		}
		for name, d := range fields {
			if d == nil {
				return nil, fmt.Errorf("%w: month %d missing %s", ErrInvalidPrediction, i+1, name)
			}
		}
		if v.Orders.IsNegative() {
			return nil, fmt.Errorf("%w: month %d has negative orders", ErrInvalidPrediction, i+1)
		}

		out = append(out, MonthlyMetrics{
			Key: strings.TrimSpace(p.Key),
			Values: MonthValues{
				Revenue:     *v.Revenue,
				Orders:      *v.Orders,
				AOV:         *v.AOV,
				COGS:        *v.COGS,
				GrossProfit: *v.GrossProfit,
				Ads:         *v.Ads,
				Shipping:    *v.Shipping,
				NetProfit:   *v.NetProfit,
			},
			IsPrediction: true,
		})
	}
	return out, nil
}
