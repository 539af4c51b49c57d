package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/relaymesh/grelay/internal/adapter/health"
	tcprelay "github.com/relaymesh/grelay/internal/adapter/relay/tcp"
	udprelay "github.com/relaymesh/grelay/internal/adapter/relay/udp"
	"github.com/relaymesh/grelay/internal/app/persist"
	"github.com/relaymesh/grelay/internal/config"
	"github.com/relaymesh/grelay/internal/core/domain"
	"github.com/relaymesh/grelay/internal/core/ports"
	"github.com/relaymesh/grelay/internal/logger"
	"github.com/relaymesh/grelay/pkg/format"
)

var (
	ErrNotFound       = errors.New("instance not found")
	ErrAlreadyExists  = errors.New("instance already exists")
	ErrAlreadyRunning = errors.New("instance already running")
	ErrNotRunning     = errors.New("instance not running")
)

// Manager is the instance manager control plane: a CRUD registry of
// configured endpoints plus their start/stop/restart lifecycle. It owns no
// network state directly; every running instance's sockets live inside the
// goroutines spawned by Start, reachable only through the
// context.CancelFunc stashed on its instanceData. Grounded on realm's
// Api/ApiInner (src/api.rs): a shared table guarded by a lock that is
// released before the slow async start/stop work runs, then reacquired to
// install the result — the "two-phase" pattern this package follows for
// Start/Stop/Restart.
type Manager struct {
	mu        sync.RWMutex
	instances map[string]*instanceData

	persist  *persist.Manager
	netdef   config.NetworkConfig
	resolver ports.Resolver
	log      logger.StyledLogger

	generation atomic.Uint64
}

// New builds a Manager. log may be nil, in which case a slog.Default-backed
// StyledLogger is used so the relay pipelines always have somewhere to send
// their own warnings regardless of whether the caller wired one up.
func New(persistMgr *persist.Manager, netdef config.NetworkConfig, resolver ports.Resolver, log *logger.StyledLogger) *Manager {
	sl := *logger.NewStyledLogger(slog.Default())
	if log != nil {
		sl = *log
	}
	return &Manager{
		instances: make(map[string]*instanceData),
		persist:   persistMgr,
		netdef:    netdef,
		resolver:  resolver,
		log:       sl,
	}
}

// LoadPersisted seeds the registry from disk and auto-starts whatever was
// marked auto_start, matching the original's bootstrap pass over its
// persisted instance table before it begins serving API requests.
func (m *Manager) LoadPersisted(ctx context.Context) error {
	confs, err := m.persist.Load()
	if err != nil {
		return fmt.Errorf("loading persisted instances: %w", err)
	}

	m.mu.Lock()
	for _, c := range confs {
		d := newInstanceData(c)
		// A restored Running status means nothing now that the process
		// restarted with no pipelines actually bound; only Failed is kept
		// for diagnostics. auto_start decides what gets started back up.
		if d.status != domain.InstanceStatusFailed {
			d.status = domain.InstanceStatusStopped
			d.reason = ""
			d.conf.Status = formatStatus(domain.InstanceStatusStopped, "")
		}
		m.instances[c.ID] = d
	}
	toStart := make([]string, 0)
	for id, d := range m.instances {
		// A persisted Failed status is a diagnostic, not a transient
		// state: auto-start leaves it alone rather than retrying a
		// config that already failed to bind once.
		if d.conf.AutoStart && d.status != domain.InstanceStatusFailed {
			toStart = append(toStart, id)
		}
	}
	m.mu.Unlock()

	for _, id := range toStart {
		if err := m.Start(ctx, id); err != nil {
			m.log.Warn("auto-start failed", "instance", id, "error", err)
		}
	}
	return nil
}

// List returns a stable-ish snapshot of every registered instance.
func (m *Manager) List() []domain.Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Instance, 0, len(m.instances))
	for _, d := range m.instances {
		out = append(out, d.snapshot())
	}
	return out
}

func (m *Manager) Get(id string) (domain.Instance, error) {
	m.mu.RLock()
	d, ok := m.instances[id]
	m.mu.RUnlock()
	if !ok {
		return domain.Instance{}, ErrNotFound
	}
	return d.snapshot(), nil
}

// GetConf returns the persisted configuration backing an instance, used by
// the HTTP layer to echo the endpoint config back in responses.
func (m *Manager) GetConf(id string) (config.InstanceConf, error) {
	d, ok := m.getData(id)
	if !ok {
		return config.InstanceConf{}, ErrNotFound
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conf, nil
}

func (m *Manager) getData(id string) (*instanceData, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.instances[id]
	return d, ok
}

// Create registers a new instance from config without starting it (unless
// AutoStart is set), validating and building its endpoint first so a bad
// config is rejected before anything is persisted.
func (m *Manager) Create(ctx context.Context, conf config.InstanceConf) (domain.Instance, error) {
	if conf.ID == "" {
		conf.ID = uuid.NewString()
	}
	if err := validateInstanceID(conf.ID); err != nil {
		return domain.Instance{}, err
	}

	if _, err := BuildEndpoint(conf.Config, m.netdef); err != nil {
		return domain.Instance{}, err
	}

	m.mu.Lock()
	if _, exists := m.instances[conf.ID]; exists {
		m.mu.Unlock()
		return domain.Instance{}, ErrAlreadyExists
	}
	conf.Status = string(domain.InstanceStatusStopped)
	d := newInstanceData(conf)
	m.instances[conf.ID] = d
	m.mu.Unlock()

	if err := m.persistLocked(); err != nil {
		return domain.Instance{}, err
	}

	if conf.AutoStart {
		if err := m.Start(ctx, conf.ID); err != nil {
			return d.snapshot(), err
		}
	}
	return d.snapshot(), nil
}

// Update replaces an existing instance's endpoint configuration. If the
// instance is currently running it is restarted so the new configuration
// takes effect immediately, mirroring realm's update-then-restart-if-live
// behaviour.
func (m *Manager) Update(ctx context.Context, id string, conf config.EndpointConf) (domain.Instance, error) {
	if _, err := BuildEndpoint(conf, m.netdef); err != nil {
		return domain.Instance{}, err
	}

	d, ok := m.getData(id)
	if !ok {
		return domain.Instance{}, ErrNotFound
	}

	d.mu.Lock()
	d.conf.Config = conf
	wasRunning := d.status == domain.InstanceStatusRunning
	d.mu.Unlock()

	if err := m.persistLocked(); err != nil {
		return domain.Instance{}, err
	}

	if wasRunning {
		if err := m.Restart(ctx, id); err != nil {
			return d.snapshot(), err
		}
	}
	return d.snapshot(), nil
}

// PatchAutoStart flips whether an instance is started automatically on the
// next LoadPersisted, without touching its running state.
func (m *Manager) PatchAutoStart(id string, autoStart bool) (domain.Instance, error) {
	d, ok := m.getData(id)
	if !ok {
		return domain.Instance{}, ErrNotFound
	}
	d.mu.Lock()
	d.conf.AutoStart = autoStart
	d.mu.Unlock()

	if err := m.persistLocked(); err != nil {
		return domain.Instance{}, err
	}
	return d.snapshot(), nil
}

// Delete stops a running instance (if any) and removes it from the registry.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if _, ok := m.getData(id); !ok {
		return ErrNotFound
	}
	_ = m.Stop(ctx, id)

	m.mu.Lock()
	delete(m.instances, id)
	m.mu.Unlock()

	return m.persistLocked()
}

func (m *Manager) persistLocked() error {
	m.mu.RLock()
	confs := make([]config.InstanceConf, 0, len(m.instances))
	for _, d := range m.instances {
		d.mu.Lock()
		confs = append(confs, d.conf)
		d.mu.Unlock()
	}
	m.mu.RUnlock()
	return m.persist.Save(confs)
}

// Start builds the instance's endpoint and launches its TCP/UDP pipelines.
// It follows the two-phase pattern: validation and endpoint construction
// happen with no lock held on the instance beyond a quick read of its
// current config, the slow part (binding sockets, waiting for readiness)
// runs unlocked, and only the final result — handles plus status — is
// installed back onto instanceData under its own lock.
func (m *Manager) Start(ctx context.Context, id string) error {
	d, ok := m.getData(id)
	if !ok {
		return ErrNotFound
	}

	d.mu.Lock()
	if d.status == domain.InstanceStatusRunning {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	conf := d.conf.Config
	d.mu.Unlock()

	built, err := BuildEndpoint(conf, m.netdef)
	if err != nil {
		d.mu.Lock()
		d.status = domain.InstanceStatusFailed
		d.reason = err.Error()
		d.conf.Status = formatStatus(d.status, d.reason)
		d.mu.Unlock()
		_ = m.persistLocked()
		return err
	}

	gen := m.generation.Add(1)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	obs := &instanceObserver{stats: d.stats}
	obs.onHealth = func(h *health.FailoverHealth) {
		d.mu.Lock()
		d.health = h
		d.mu.Unlock()
	}

	tcpReady := make(chan error, 1)
	udpReady := make(chan error, 1)
	var tcpErr, udpErr error
	var wg sync.WaitGroup

	if built.UseTCP {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tcpErr = tcprelay.Run(runCtx, built.Endpoint, tcpReady, obs, m.log)
			// cancel immediately so the UDP side of this instance, if any,
			// is torn down as soon as TCP exits rather than running on
			// its own until it happens to notice independently.
			cancel()
		}()
		if err := <-tcpReady; err != nil {
			cancel()
			wg.Wait()
			d.mu.Lock()
			d.status = domain.InstanceStatusFailed
			d.reason = err.Error()
			d.conf.Status = formatStatus(d.status, d.reason)
			d.mu.Unlock()
			_ = m.persistLocked()
			return err
		}
	}

	if built.UseUDP {
		wg.Add(1)
		go func() {
			defer wg.Done()
			udpErr = udprelay.Run(runCtx, built.Endpoint, udpReady, obs, m.resolver, m.log)
			// symmetric with the TCP side: an unexpected UDP exit tears
			// down TCP immediately instead of leaving it running solo.
			cancel()
		}()
		if err := <-udpReady; err != nil {
			cancel()
			wg.Wait()
			d.mu.Lock()
			d.status = domain.InstanceStatusFailed
			d.reason = err.Error()
			d.conf.Status = formatStatus(d.status, d.reason)
			d.mu.Unlock()
			_ = m.persistLocked()
			return err
		}
	}

	go func() {
		wg.Wait()
		close(done)
		m.onPipelineExit(d, gen, tcpErr, udpErr)
	}()

	d.mu.Lock()
	d.status = domain.InstanceStatusRunning
	d.reason = ""
	d.generation = gen
	d.cancel = cancel
	d.done = done
	d.endpoint = built.Endpoint
	d.stats.ClearRuntimeState()
	d.mu.Unlock()

	return m.persistStatus(id, domain.InstanceStatusRunning)
}

// onPipelineExit is the crash watcher: it runs once both of an instance's
// pipelines have returned. If the generation stashed on instanceData still
// matches the one this run was started with, nothing newer has since
// raced it (a Start/Stop/Restart in between would have bumped it), so it's
// safe to mark the instance stopped or failed. A generation mismatch means
// a newer Start already owns the slot and this exit report is stale.
func (m *Manager) onPipelineExit(d *instanceData, gen uint64, tcpErr, udpErr error) {
	d.mu.Lock()
	if d.generation != gen {
		d.mu.Unlock()
		return
	}
	d.cancel = nil
	d.done = nil
	if tcpErr != nil || udpErr != nil {
		d.status = domain.InstanceStatusFailed
		if tcpErr != nil {
			d.reason = tcpErr.Error()
		} else {
			d.reason = udpErr.Error()
		}
		m.log.Warn("instance pipeline exited unexpectedly", "instance", d.conf.ID, "error", d.reason)
	} else {
		d.status = domain.InstanceStatusStopped
		d.reason = ""
	}
	d.conf.Status = formatStatus(d.status, d.reason)
	d.mu.Unlock()
	_ = m.persistLocked()
}

// Stop cancels a running instance's pipelines and waits for them to exit.
func (m *Manager) Stop(ctx context.Context, id string) error {
	d, ok := m.getData(id)
	if !ok {
		return ErrNotFound
	}

	d.mu.Lock()
	if d.status != domain.InstanceStatusRunning || d.cancel == nil {
		d.mu.Unlock()
		return ErrNotRunning
	}
	cancel := d.cancel
	done := d.done
	d.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.mu.Lock()
	d.generation = m.generation.Add(1)
	d.cancel = nil
	d.done = nil
	d.status = domain.InstanceStatusStopped
	d.reason = ""
	d.mu.Unlock()

	snap := d.stats.Snapshot()
	m.log.Info("instance stopped", "instance", id,
		"total_in", format.Bytes(snap.TotalInbound), "total_out", format.Bytes(snap.TotalOutbound))

	return m.persistStatus(id, domain.InstanceStatusStopped)
}

// Restart stops then starts an instance. An instance that isn't running is
// simply started; any other stop failure is returned and no start is
// attempted.
func (m *Manager) Restart(ctx context.Context, id string) error {
	if err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return m.Start(ctx, id)
}

func (m *Manager) persistStatus(id string, status domain.InstanceStatus) error {
	d, ok := m.getData(id)
	if !ok {
		return nil
	}
	d.mu.Lock()
	d.conf.Status = formatStatus(status, d.reason)
	d.mu.Unlock()
	return m.persistLocked()
}

// Health returns the failover health snapshot for a running instance, or
// nil if the instance isn't balancing with Failover (or isn't running).
func (m *Manager) Health(id string) (*health.FailoverHealth, error) {
	d, ok := m.getData(id)
	if !ok {
		return nil, ErrNotFound
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	bal := d.endpoint.ConnOpts.Balancer
	if d.status != domain.InstanceStatusRunning || bal == nil || bal.Strategy() != "failover" {
		return nil, nil
	}
	return d.health, nil
}

// Stats returns the running byte/connection counters for an instance.
func (m *Manager) Stats(id string) (domain.StatsSnapshot, error) {
	d, ok := m.getData(id)
	if !ok {
		return domain.StatsSnapshot{}, ErrNotFound
	}
	return d.stats.Snapshot(), nil
}

// BackendRoute is one peer's routing/health view, as reported by GET
// /instances/{id}/route.
type BackendRoute struct {
	Addr           string
	Role           string // "primary" or "backup"
	State          string // "healthy", "unhealthy", "backoff", or "unknown"
	BackoffUntilMs *uint64
	OkRecent       bool
}

// RouteSnapshot is the balancer/health inspection view of a single instance.
type RouteSnapshot struct {
	Strategy             string
	PreferredBackend     string
	LastSuccessBackend   string
	Backends             []BackendRoute
	ConnectionsByBackend map[string]uint64
	BytesByBackend       map[string]domain.BackendBytes
}

// Route reports the balancer strategy, per-peer health state, and traffic
// aggregates for an instance. A peer with no FailoverHealth attached (the
// balancer isn't Failover, or the instance has never started) is reported
// as "unknown" rather than guessed at.
func (m *Manager) Route(id string) (RouteSnapshot, error) {
	d, ok := m.getData(id)
	if !ok {
		return RouteSnapshot{}, ErrNotFound
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	stats := d.stats.Snapshot()
	snap := RouteSnapshot{
		LastSuccessBackend:   stats.LastSuccessBackend,
		ConnectionsByBackend: map[string]uint64{},
		BytesByBackend:       stats.BytesByBackend,
	}
	for _, c := range stats.Connections {
		if c.Backend != "" {
			snap.ConnectionsByBackend[c.Backend]++
		}
	}

	bal := d.endpoint.ConnOpts.Balancer
	if bal == nil {
		snap.Strategy = "off"
		return snap, nil
	}
	snap.Strategy = bal.Strategy()

	peers := make([]domain.RemoteAddr, 0, 1+len(d.endpoint.ExtraRaddrs))
	peers = append(peers, d.endpoint.Raddr)
	peers = append(peers, d.endpoint.ExtraRaddrs...)
	okTTL := d.endpoint.ConnOpts.Failover.OkTTLMs

	for i, peer := range peers {
		role := "backup"
		if i == 0 {
			role = "primary"
		}
		route := BackendRoute{Addr: peer.String(), Role: role, State: "unknown"}

		if d.health != nil && snap.Strategy == "failover" {
			ps := d.health.Snapshot(domain.Token(i), okTTL)
			route.OkRecent = ps.OkRecent
			switch {
			case ps.ShouldSkip:
				route.State = "backoff"
				until := ps.DownUntilMs
				route.BackoffUntilMs = &until
			case ps.OkRecent:
				route.State = "healthy"
			case ps.FailCount > 0:
				route.State = "unhealthy"
			}
			if snap.PreferredBackend == "" && !ps.ShouldSkip {
				snap.PreferredBackend = route.Addr
			}
		}
		snap.Backends = append(snap.Backends, route)
	}
	if snap.PreferredBackend == "" && len(peers) > 0 {
		snap.PreferredBackend = peers[0].String()
	}
	return snap, nil
}

// Shutdown stops every running instance, used on process exit.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = m.Stop(ctx, id)
		}(id)
	}
	wg.Wait()
}
