// Package ingestion polls public hazard feeds and opens an emergency for
// each significant event not seen before.
package ingestion

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mr1hm/go-disaster-response/internal/config"
	"github.com/mr1hm/go-disaster-response/internal/models"
	"github.com/mr1hm/go-disaster-response/internal/orchestrator"
	"github.com/mr1hm/go-disaster-response/internal/worker"
)

type Intaker interface {
	Intake(ctx context.Context, in models.Intake) (*orchestrator.IntakeResult, error)
}

type SourceChecker interface {
	ExistsBySourceRef(ctx context.Context, ref string) (bool, error)
}

type Manager struct {
	cfg      *config.Config
	refs     SourceChecker
	intaker  Intaker
	client   *http.Client
	pool     *worker.WorkerPool[models.Intake]
	inflight sync.Map
	wg       sync.WaitGroup
}

func NewManager(cfg *config.Config, refs SourceChecker, intaker Intaker) *Manager {
	return &Manager{
		cfg:     cfg,
		refs:    refs,
		intaker: intaker,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (m *Manager) process(ctx context.Context, in models.Intake) error {
	ref := in.SourceRef()
	if _, busy := m.inflight.LoadOrStore(ref, struct{}{}); busy {
		return nil
	}
	defer m.inflight.Delete(ref)

	exists, err := m.refs.ExistsBySourceRef(ctx, ref)
	if err != nil {
		slog.Error("error checking existence", "source_ref", ref, "error", err)
		return err
	}
	if exists {
		return nil
	}

	res, err := m.intaker.Intake(ctx, in)
	if err != nil {
		if res != nil {
			slog.Warn("feed emergency recorded without workflow", "source_ref", ref, "emergency_id", res.EmergencyID, "error", err)
			return nil
		}
		slog.Error("error opening emergency", "source_ref", ref, "error", err)
		return err
	}

	slog.Info("opened emergency from feed", "source_ref", ref, "emergency_id", res.EmergencyID,
		"emergency_type", res.EmergencyType, "severity", res.Severity)
	return nil
}

func (m *Manager) Start(ctx context.Context) {
	m.pool = worker.NewWorkerPool("ingestion", m.cfg.Worker.Count, m.cfg.Worker.BufferSize, m.process)
	m.pool.Start(ctx)

	if m.cfg.Sources.USGSEnabled {
		m.wg.Add(1)
		go m.runPoller(ctx, "usgs", m.cfg.Sources.USGSURL, m.cfg.Sources.USGSPollInterval)
	}

	if m.cfg.Sources.GDACSEnabled {
		m.wg.Add(1)
		go m.runPoller(ctx, "gdacs", m.cfg.Sources.GDACSURL, m.cfg.Sources.GDACSPollInterval)
	}
}

func (m *Manager) runPoller(ctx context.Context, source, url string, interval time.Duration) {
	defer m.wg.Done()
	slog.Info("starting poller", "source", source, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial poll
	m.poll(ctx, source, url)

	for {
		select {
		case <-ctx.Done():
			slog.Info("poller shutting down", "source", source)
			return
		case <-ticker.C:
			m.poll(ctx, source, url)
		}
	}
}

func (m *Manager) poll(ctx context.Context, source, url string) {
	slog.Debug("polling", "source", source)

	var (
		intakes []models.Intake
		err     error
	)

	switch source {
	case "usgs":
		intakes, err = fetchUSGS(ctx, m.client, url)
	case "gdacs":
		intakes, err = fetchGDACS(ctx, m.client, url)
	}
	if err != nil {
		slog.Error("poll failed", "source", source, "error", err)
		return
	}

	for _, in := range intakes {
		if err := m.pool.Submit(ctx, in); err != nil {
			slog.Warn("dropping feed item", "source", source, "source_ref", in.SourceRef(), "error", err)
			return
		}
	}

	slog.Debug("poll complete", "source", source, "count", len(intakes))
}

// Stop waits for the pollers, which exit when the Start context ends, then
// drains the pool.
func (m *Manager) Stop() {
	m.wg.Wait()
	m.pool.Stop()
	m.client.CloseIdleConnections()
	slog.Info("ingestion manager stopped")
}
