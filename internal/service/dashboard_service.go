package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Aniket17200/Profitfirst/internal/aggregate"
	"github.com/Aniket17200/Profitfirst/internal/dashboard"
	"github.com/Aniket17200/Profitfirst/internal/models"
	"github.com/Aniket17200/Profitfirst/internal/normalize"
	"github.com/Aniket17200/Profitfirst/internal/util"
)

const publishTimeout = 5 * time.Second

// CredentialStore looks up an owner's upstream credentials
type CredentialStore interface {
	GetCredentials(ctx context.Context, ownerID string) (*models.Credentials, error)
}

// SnapshotPublisher emits metrics snapshot events
type SnapshotPublisher interface {
	PublishMetricsSnapshot(ctx context.Context, event *models.MetricsSnapshotEvent) error
}

// DashboardService builds an owner's dashboard for a date range
type DashboardService struct {
	credentials CredentialStore
	pipeline    *Pipeline
	publisher   SnapshotPublisher
	now         func() time.Time
	logger      *zap.Logger
	wg          sync.WaitGroup
}

// NewDashboardService creates a new dashboard service. publisher may be nil.
func NewDashboardService(credentials CredentialStore, pipeline *Pipeline, publisher SnapshotPublisher) *DashboardService {
	return &DashboardService{
		credentials: credentials,
		pipeline:    pipeline,
		publisher:   publisher,
		now:         time.Now,
		logger:      util.GetLogger(),
	}
}

// GetDashboard loads credentials, runs the pipeline and assembles the
// response. Snapshot events are published in the background.
func (s *DashboardService) GetDashboard(ctx context.Context, ownerID string, r normalize.DateRange) (*dashboard.Dashboard, error) {
	ctx, span := util.StartSpan(ctx, "DashboardService.GetDashboard",
		attribute.String("owner_id", ownerID),
		attribute.String("range", r.Key()))
	defer span.End()

	creds, err := s.credentials.GetCredentials(ctx, ownerID)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	snap, err := s.pipeline.Run(ctx, ownerID, *creds, r)
	if err != nil {
		return nil, err
	}

	// degraded days would overwrite good stored history
	if snap.Fetched && snap.Complete() {
		s.publishAsync(ctx, snap)
	}

	return dashboard.Assemble(snap.Result, dashboard.Meta{
		Requested:   snap.Requested,
		Sources:     snap.Sources,
		GeneratedAt: s.now(),
	}), nil
}

func (s *DashboardService) publishAsync(ctx context.Context, snap *Snapshot) {
	if s.publisher == nil {
		return
	}
	event := NewSnapshotEvent(snap.OwnerID, snap.Result, s.now())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()

		if err := s.publisher.PublishMetricsSnapshot(pctx, event); err != nil {
			util.SnapshotEventsTotal.WithLabelValues("publish_failed").Inc()
			s.logger.Error("Failed to publish metrics snapshot",
				zap.String("owner_id", snap.OwnerID),
				zap.String("event_id", event.EventID),
				zap.Error(err))
			return
		}
		util.SnapshotEventsTotal.WithLabelValues("published").Inc()
	}()
}

// Flush waits for in-flight snapshot publishes
func (s *DashboardService) Flush() {
	s.wg.Wait()
}

// NewSnapshotEvent converts an aggregation result into an event
func NewSnapshotEvent(ownerID string, res *aggregate.Result, now time.Time) *models.MetricsSnapshotEvent {
	daily := make([]models.DailyMetricRecord, 0, len(res.Daily))
	for _, b := range res.Daily {
		daily = append(daily, models.DailyMetricRecord{
			Date:         b.Date,
			Orders:       b.Orders,
			Revenue:      b.Revenue,
			COGS:         b.COGS,
			AdSpend:      b.AdSpend,
			ShippingCost: b.ShippingCost,
			NetProfit:    b.NetProfit,
		})
	}

	return &models.MetricsSnapshotEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeMetricsSnapshot,
			Timestamp: now,
		},
		OwnerID:      ownerID,
		StartDate:    res.Range.StartDate(),
		EndDate:      res.Range.EndDate(),
		TotalOrders:  res.Summary.TotalOrders,
		TotalRevenue: res.Summary.TotalRevenue,
		NetProfit:    res.Summary.NetProfit,
		Daily:        daily,
	}
}
