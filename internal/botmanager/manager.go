// Package botmanager owns one running bot session per app instance.
package botmanager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"apphub.local/matrix-bots/internal/activity"
	"apphub.local/matrix-bots/internal/apps"
	"apphub.local/matrix-bots/internal/bot"
)

const defaultStartConcurrency = 4

var ErrAppOffline = errors.New("app is offline")

// Connection is an authenticated chat connection for one bot user.
type Connection interface {
	bot.Transport
	UserID() string
	OnEvent(func(context.Context, bot.InboundEvent))
	Run(ctx context.Context) error
	Stop()
}

type Connector interface {
	Connect(ctx context.Context, app apps.AppInstance) (Connection, error)
}

type ConnectorFunc func(ctx context.Context, app apps.AppInstance) (Connection, error)

func (f ConnectorFunc) Connect(ctx context.Context, app apps.AppInstance) (Connection, error) {
	return f(ctx, app)
}

type SessionInfo struct {
	InstanceID string    `json:"instance_id"`
	Name       string    `json:"name"`
	UserID     string    `json:"user_id"`
	StartedAt  time.Time `json:"started_at"`
	Rooms      []string  `json:"rooms"`
}

type LoadResult struct {
	Started int `json:"started"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type Option func(*Manager)

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

func WithActivity(publisher activity.Publisher) Option {
	return func(m *Manager) {
		if publisher != nil {
			m.activity = publisher
		}
	}
}

// WithSessionOptions applies opts to every session the manager creates.
func WithSessionOptions(opts ...bot.Option) Option {
	return func(m *Manager) {
		m.sessionOpts = append(m.sessionOpts, opts...)
	}
}

func WithStartConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.startConcurrency = n
		}
	}
}

type Manager struct {
	connector        Connector
	registry         apps.Registry
	responder        bot.Responder
	activity         activity.Publisher
	log              zerolog.Logger
	baseLog          zerolog.Logger
	sessionOpts      []bot.Option
	startConcurrency int

	mu       sync.Mutex
	bots     map[string]*runningBot
	starting map[string]struct{}
}

type runningBot struct {
	app     apps.AppInstance
	conn    Connection
	session *bot.Session
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(connector Connector, registry apps.Registry, responder bot.Responder, opts ...Option) *Manager {
	m := &Manager{
		connector:        connector,
		registry:         registry,
		responder:        responder,
		activity:         activity.Discard,
		log:              zerolog.Nop(),
		startConcurrency: defaultStartConcurrency,
		bots:             make(map[string]*runningBot),
		starting:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.baseLog = m.log
	m.log = m.log.With().Str("component", "botmanager").Logger()
	return m
}

// LoadApps starts a bot for every registry app that is not offline. A failing
// app is logged and counted; the rest still start.
func (m *Manager) LoadApps(ctx context.Context) (LoadResult, error) {
	list, err := m.registry.List(ctx)
	if err != nil {
		return LoadResult{}, fmt.Errorf("list apps: %w", err)
	}

	var started, skipped, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(m.startConcurrency)
	for _, app := range list {
		if app.Status == apps.StatusOffline {
			skipped.Add(1)
			m.log.Info().Str("instance_id", app.ID).Msg("skipping offline app")
			continue
		}
		app := app
		g.Go(func() error {
			if err := m.StartBot(ctx, app); err != nil {
				failed.Add(1)
				return nil
			}
			started.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := LoadResult{Started: int(started.Load()), Skipped: int(skipped.Load()), Failed: int(failed.Load())}
	m.log.Info().Int("started", result.Started).Int("skipped", result.Skipped).Int("failed", result.Failed).Msg("apps loaded")
	return result, nil
}

// StartBot connects app's bot and starts its sync loop. Starting an app that
// is already running is a no-op.
func (m *Manager) StartBot(ctx context.Context, app apps.AppInstance) error {
	log := m.log.With().Str("instance_id", app.ID).Logger()

	m.mu.Lock()
	if _, ok := m.bots[app.ID]; ok {
		m.mu.Unlock()
		return nil
	}
	if _, ok := m.starting[app.ID]; ok {
		m.mu.Unlock()
		return nil
	}
	m.starting[app.ID] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.starting, app.ID)
		m.mu.Unlock()
	}()

	conn, err := m.connector.Connect(ctx, app)
	if err != nil {
		log.Error().Err(err).Msg("start bot failed")
		failed := activity.NewEvent(activity.TypeBotStartFailed, app.ID)
		failed.Detail = err.Error()
		m.activity.Publish(failed)
		return fmt.Errorf("start bot %s: %w", app.ID, err)
	}

	opts := append([]bot.Option{bot.WithLogger(m.baseLog), bot.WithActivity(m.activity)}, m.sessionOpts...)
	session := bot.NewSession(app.ID, conn.UserID(), conn, m.responder, opts...)
	conn.OnEvent(func(ctx context.Context, evt bot.InboundEvent) {
		session.HandleEvent(ctx, evt)
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rb := &runningBot{app: app, conn: conn, session: session, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.bots[app.ID] = rb
	m.mu.Unlock()

	go m.run(runCtx, rb)

	log.Info().Str("user_id", conn.UserID()).Time("start_time", session.StartTime()).Msg("bot started")
	started := activity.NewEvent(activity.TypeBotStarted, app.ID)
	started.UserID = conn.UserID()
	m.activity.Publish(started)
	return nil
}

func (m *Manager) run(ctx context.Context, rb *runningBot) {
	defer close(rb.done)
	err := rb.conn.Run(ctx)
	if ctx.Err() != nil {
		return
	}

	// The loop ended on its own; forget the bot so it can be started again.
	m.mu.Lock()
	if m.bots[rb.app.ID] == rb {
		delete(m.bots, rb.app.ID)
	}
	m.mu.Unlock()
	rb.cancel()

	stopped := activity.NewEvent(activity.TypeBotStopped, rb.app.ID)
	if err != nil {
		stopped.Detail = err.Error()
		m.log.Error().Err(err).Str("instance_id", rb.app.ID).Msg("sync loop exited")
	}
	m.activity.Publish(stopped)
}

// StopBot stops instanceID's bot and waits for its loop to return. It reports
// whether a bot was running; stopping an unknown bot is a no-op.
func (m *Manager) StopBot(instanceID string) bool {
	m.mu.Lock()
	rb, ok := m.bots[instanceID]
	if ok {
		delete(m.bots, instanceID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	m.stop(rb)
	m.activity.Publish(activity.NewEvent(activity.TypeBotStopped, instanceID))
	m.log.Info().Str("instance_id", instanceID).Msg("bot stopped")
	return true
}

func (m *Manager) StopAll() {
	m.mu.Lock()
	running := make([]*runningBot, 0, len(m.bots))
	for id, rb := range m.bots {
		running = append(running, rb)
		delete(m.bots, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, rb := range running {
		wg.Add(1)
		go func(rb *runningBot) {
			defer wg.Done()
			m.stop(rb)
			m.activity.Publish(activity.NewEvent(activity.TypeBotStopped, rb.app.ID))
		}(rb)
	}
	wg.Wait()
	if len(running) > 0 {
		m.log.Info().Int("count", len(running)).Msg("all bots stopped")
	}
}

func (m *Manager) stop(rb *runningBot) {
	rb.cancel()
	rb.conn.Stop()
	<-rb.done
}

func (m *Manager) Lookup(instanceID string) (SessionInfo, bool) {
	m.mu.Lock()
	rb, ok := m.bots[instanceID]
	m.mu.Unlock()
	if !ok {
		return SessionInfo{}, false
	}
	return rb.info(), true
}

func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	out := make([]SessionInfo, 0, len(m.bots))
	for _, rb := range m.bots {
		out = append(out, rb.info())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

// StartByID looks appID up in the registry and starts it.
func (m *Manager) StartByID(ctx context.Context, appID string) error {
	app, err := apps.Find(ctx, m.registry, appID)
	if err != nil {
		return err
	}
	if app.Status == apps.StatusOffline {
		return fmt.Errorf("start bot %s: %w", app.ID, ErrAppOffline)
	}
	return m.StartBot(ctx, app)
}

func (rb *runningBot) info() SessionInfo {
	return SessionInfo{
		InstanceID: rb.app.ID,
		Name:       rb.app.Name,
		UserID:     rb.session.UserID(),
		StartedAt:  rb.session.StartTime(),
		Rooms:      rb.session.Rooms(),
	}
}
