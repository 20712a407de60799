package widget

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ChartSnap/internal/capabilities"
	"github.com/dharsanguruparan/ChartSnap/internal/clinical"
	"github.com/dharsanguruparan/ChartSnap/internal/commit"
	"github.com/dharsanguruparan/ChartSnap/internal/compress"
	"github.com/dharsanguruparan/ChartSnap/internal/handoff"
	"github.com/dharsanguruparan/ChartSnap/internal/intake"
	"github.com/dharsanguruparan/ChartSnap/internal/relay"
	"github.com/dharsanguruparan/ChartSnap/internal/session"
	"github.com/dharsanguruparan/ChartSnap/internal/tagging"
)

// Workspace is everything one open encounter owns: its store, tagging
// defaults, capability snapshot and mobile pairing.
type Workspace struct {
	EncounterID string
	Store       *session.Store
	Caps        *capabilities.Cache
	Tagger      *tagging.Tagger
	Intake      *intake.Intake
	Committer   *commit.Committer
	Handoff     *handoff.Channel

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	released bool
}

// Deps are shared by every workspace.
type Deps struct {
	Client     clinical.Client
	Subscriber relay.Subscriber
	Compress   compress.Options
	Handoff    handoff.Options
	// CommitTimeout bounds each clinical commit call; zero keeps
	// commit.DefaultCallTimeout.
	CommitTimeout time.Duration
	Log           zerolog.Logger
}

// Manager creates workspaces on first use and keeps them until Close.
type Manager struct {
	deps Deps

	mu         sync.Mutex
	workspaces map[string]*Workspace
	closed     bool
}

var errClosed = errors.New("widget is shutting down")

// NewManager constructs a Manager.
func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps, workspaces: make(map[string]*Workspace)}
}

// Workspace returns the encounter's workspace, creating it and loading
// capabilities on first use. A failed capability fetch leaves no workspace
// behind, so the next call retries.
func (m *Manager) Workspace(ctx context.Context, encounterID string) (*Workspace, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errClosed
	}
	if ws, ok := m.workspaces[encounterID]; ok {
		m.mu.Unlock()
		return ws, nil
	}
	m.mu.Unlock()

	// Built outside the lock; the capability fetch is a network call.
	ws, err := m.build(ctx, encounterID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errClosed
	}
	if existing, ok := m.workspaces[encounterID]; ok {
		return existing, nil
	}
	m.workspaces[encounterID] = ws
	return ws, nil
}

func (m *Manager) build(ctx context.Context, encounterID string) (*Workspace, error) {
	log := m.deps.Log.With().Str("encounter_id", encounterID).Logger()
	caps := capabilities.NewCache(m.deps.Client)
	snap, err := caps.Get(ctx)
	if err != nil {
		return nil, err
	}
	store := session.New()
	tagger := tagging.New(store)
	tagger.UseCapabilities(snap)
	in := intake.New(store, caps, m.deps.Compress, log)
	committer := commit.New(store, m.deps.Client, caps, m.deps.Compress, log)
	committer.SetCallTimeout(m.deps.CommitTimeout)
	return &Workspace{
		EncounterID: encounterID,
		Store:       store,
		Caps:        caps,
		Tagger:      tagger,
		Intake:      in,
		Committer:   committer,
		Handoff:     handoff.New(m.deps.Client, caps, m.deps.Subscriber, in, m.deps.Handoff, log),
	}, nil
}

// Close releases every workspace and waits for mobile listeners to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	list := make([]*Workspace, 0, len(m.workspaces))
	for _, ws := range m.workspaces {
		list = append(list, ws)
	}
	m.mu.Unlock()
	for _, ws := range list {
		ws.release()
	}
}

// Release closes an encounter's workspace: its mobile listener stops, its
// images are dropped and open event streams end. It reports whether the
// encounter was open. The next request for the encounter starts a fresh
// workspace.
func (m *Manager) Release(encounterID string) bool {
	m.mu.Lock()
	ws, ok := m.workspaces[encounterID]
	delete(m.workspaces, encounterID)
	m.mu.Unlock()
	if !ok {
		return false
	}
	ws.release()
	m.deps.Log.Info().Str("encounter_id", encounterID).Msg("workspace released")
	return true
}

func (ws *Workspace) release() {
	ws.mu.Lock()
	ws.released = true
	ws.mu.Unlock()
	ws.stopListener()
	ws.Store.Close()
}

// startListener runs the handoff channel in the background unless it is
// already running. A listener that went stale is restarted.
func (ws *Workspace) startListener(parent zerolog.Logger) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.released {
		return
	}
	if ws.done != nil {
		select {
		case <-ws.done:
		default:
			return
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	ws.cancel = cancel
	ws.done = done
	go func() {
		defer close(done)
		if err := ws.Handoff.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			parent.Warn().Err(err).Str("encounter_id", ws.EncounterID).Msg("mobile listener stopped")
		}
	}()
}

func (ws *Workspace) stopListener() {
	ws.mu.Lock()
	cancel, done := ws.cancel, ws.done
	ws.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
