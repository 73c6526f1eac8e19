package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Aniket17200/Profitfirst/internal/models"
	"github.com/Aniket17200/Profitfirst/internal/normalize"
	"github.com/Aniket17200/Profitfirst/internal/util"
)

// ShiprocketConfig tunes the logistics client
type ShiprocketConfig struct {
	BaseURL  string
	PageSize int
	MaxPages int
	Retry    RetryPolicy
}

// DefaultShiprocketConfig returns production settings
func DefaultShiprocketConfig() ShiprocketConfig {
	return ShiprocketConfig{
		BaseURL:  "https://apiv2.shiprocket.in/v1/external",
		PageSize: 100,
		MaxPages: 200,
		Retry:    DefaultRetryPolicy(),
	}
}

// ShiprocketClient fetches shipments from the Shiprocket API
type ShiprocketClient struct {
	cfg    ShiprocketConfig
	http   *http.Client
	logger *zap.Logger
}

// NewShiprocketClient creates a new logistics client
func NewShiprocketClient(cfg ShiprocketConfig, httpClient *http.Client) *ShiprocketClient {
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	def := DefaultShiprocketConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	return &ShiprocketClient{
		cfg:    cfg,
		http:   httpClient,
		logger: util.ComponentLogger(SourceShiprocket),
	}
}

type shiprocketShipment struct {
	ID        interface{} `json:"id"`
	OrderID   interface{} `json:"order_id"`
	AWB       interface{} `json:"awb"`
	Courier   string      `json:"courier_name"`
	CreatedAt string      `json:"created_at"`
	Status    string      `json:"status"`
	Charges   struct {
		FreightCharges interface{} `json:"freight_charges"`
		CODCharges     interface{} `json:"cod_charges"`
	} `json:"charges"`
}

type shiprocketPage struct {
	Data []shiprocketShipment `json:"data"`
}

// FetchShipments pages through shipments newest first and keeps those whose
// IST order day lies in r.
func (c *ShiprocketClient) FetchShipments(ctx context.Context, creds models.Credentials, r normalize.DateRange) ([]models.RawShipment, error) {
	ctx, span := util.StartSpan(ctx, "ShiprocketClient.FetchShipments",
		attribute.String("range", r.Key()))
	defer span.End()

	if creds.LogisticsToken == "" {
		err := fatal(SourceShiprocket, 0, errors.New("logistics token missing"))
		util.RecordError(span, err)
		return nil, err
	}

	headers := map[string]string{"Authorization": "Bearer " + creds.LogisticsToken}
	shipments := []models.RawShipment{}

	for page := 1; page <= c.cfg.MaxPages; page++ {
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		params.Set("per_page", strconv.Itoa(c.cfg.PageSize))
		params.Set("sort", "desc")
		params.Set("sort_by", "created_at")
		pageURL := strings.TrimRight(c.cfg.BaseURL, "/") + "/shipments?" + params.Encode()

		var resp shiprocketPage
		err := c.cfg.Retry.Do(ctx, SourceShiprocket, func(ctx context.Context) error {
			return getJSON(ctx, c.http, SourceShiprocket, pageURL, headers, &resp)
		})
		if err != nil {
			util.RecordError(span, err)
			return nil, fmt.Errorf("shipments page %d: %w", page, err)
		}

		olderThanRange := 0
		for _, s := range resp.Data {
			shipment, ok := c.toRawShipment(s)
			if !ok {
				continue
			}
			if normalize.StartOfDay(shipment.OrderDate).Before(r.Start) {
				olderThanRange++
				continue
			}
			if r.Contains(shipment.OrderDate) {
				shipments = append(shipments, shipment)
			}
		}

		if len(resp.Data) < c.cfg.PageSize {
			break
		}
		if olderThanRange == len(resp.Data) {
			break
		}
	}

	span.SetAttributes(attribute.Int("shipments", len(shipments)))
	return shipments, nil
}

func (c *ShiprocketClient) toRawShipment(s shiprocketShipment) (models.RawShipment, bool) {
	orderDate, err := normalize.ParseTimestamp(s.CreatedAt)
	if err != nil {
		c.logger.Debug("Skipping shipment with unparseable date",
			zap.String("created_at", s.CreatedAt))
		return models.RawShipment{}, false
	}
	return models.RawShipment{
		ID:            stringify(s.ID),
		OrderID:       stringify(s.OrderID),
		AWB:           stringify(s.AWB),
		Courier:       s.Courier,
		OrderDate:     orderDate,
		Status:        ShipmentStatus(s.Status),
		FreightCharge: normalize.ToDecimal(s.Charges.FreightCharges),
		CODCharge:     normalize.ToDecimal(s.Charges.CODCharges),
	}, true
}

// ShipmentStatus maps a Shiprocket status label onto the normalized set
func ShipmentStatus(label string) models.ShipmentStatus {
	s := strings.ToUpper(strings.TrimSpace(label))
	switch {
	case s == "":
		return models.ShipmentOther
	case strings.Contains(s, "RTO"):
		return models.ShipmentRTO
	case strings.Contains(s, "NDR"), strings.Contains(s, "UNDELIVERED"):
		return models.ShipmentNDR
	case strings.Contains(s, "DELIVERED"):
		return models.ShipmentDelivered
	case strings.Contains(s, "TRANSIT"), strings.Contains(s, "OUT FOR DELIVERY"),
		strings.Contains(s, "SHIPPED"), strings.Contains(s, "PICKED UP"):
		return models.ShipmentInTransit
	default:
		return models.ShipmentOther
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
