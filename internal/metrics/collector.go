package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/store"
)

const collectTimeout = 5 * time.Second

// StateCollector reports federation state read from the store on every scrape.
type StateCollector struct {
	db     store.Store
	logger *zap.Logger

	lockdown     *prometheus.Desc
	federation   *prometheus.Desc
	tenants      *prometheus.Desc
	whitelisted  *prometheus.Desc
	partnerships *prometheus.Desc
}

// NewStateCollector returns a collector over db.
func NewStateCollector(db store.Store, logger *zap.Logger) *StateCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateCollector{
		db:     db,
		logger: logger,
		lockdown: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "federation", "locked_down"),
			"1 while the emergency lockdown is active", nil, nil),
		federation: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "federation", "enabled"),
			"1 while federation is enabled platform-wide", nil, nil),
		tenants: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "tenants", "count"),
			"Tenants by kind", []string{"kind"}, nil),
		whitelisted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "federation", "whitelisted_tenants"),
			"Tenants on the federation whitelist", nil, nil),
		partnerships: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "federation", "partnerships"),
			"Partnerships by status", []string{"status"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.lockdown
	ch <- c.federation
	ch <- c.tenants
	ch <- c.whitelisted
	ch <- c.partnerships
}

type snapshot struct {
	controls     *models.SystemControls
	total        int
	active       int
	hubs         int
	whitelisted  int
	partnerships map[models.PartnershipStatus]int
}

func (c *StateCollector) read(ctx context.Context) (*snapshot, error) {
	s := &snapshot{partnerships: map[models.PartnershipStatus]int{}}
	err := c.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if s.controls, err = tx.GetControls(ctx); err != nil {
			return err
		}
		tenants, err := tx.ListTenants(ctx)
		if err != nil {
			return err
		}
		for _, t := range tenants {
			s.total++
			if t.IsActive {
				s.active++
			}
			if t.IsHub() {
				s.hubs++
			}
		}
		wl, err := tx.ListWhitelist(ctx)
		if err != nil {
			return err
		}
		s.whitelisted = len(wl)
		ps, err := tx.ListPartnerships(ctx, models.PartnershipFilter{})
		if err != nil {
			return err
		}
		for _, p := range ps {
			s.partnerships[p.Status]++
		}
		return nil
	})
	return s, err
}

// Collect implements prometheus.Collector. A failed read yields no samples.
func (c *StateCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()
	s, err := c.read(ctx)
	if err != nil {
		c.logger.Warn("collect federation state", zap.Error(err))
		return
	}
	ch <- prometheus.MustNewConstMetric(c.lockdown, prometheus.GaugeValue, boolValue(s.controls.IsLockedDown))
	ch <- prometheus.MustNewConstMetric(c.federation, prometheus.GaugeValue, boolValue(s.controls.FederationEnabled))
	ch <- prometheus.MustNewConstMetric(c.tenants, prometheus.GaugeValue, float64(s.total), "total")
	ch <- prometheus.MustNewConstMetric(c.tenants, prometheus.GaugeValue, float64(s.active), "active")
	ch <- prometheus.MustNewConstMetric(c.tenants, prometheus.GaugeValue, float64(s.hubs), "hub")
	ch <- prometheus.MustNewConstMetric(c.whitelisted, prometheus.GaugeValue, float64(s.whitelisted))
	for _, st := range []models.PartnershipStatus{models.PartnershipActive, models.PartnershipSuspended, models.PartnershipTerminated} {
		ch <- prometheus.MustNewConstMetric(c.partnerships, prometheus.GaugeValue, float64(s.partnerships[st]), string(st))
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
