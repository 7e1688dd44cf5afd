// Package matrix connects app bots to a homeserver with mautrix.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"apphub.local/matrix-bots/internal/apps"
	"apphub.local/matrix-bots/internal/bot"
)

var ErrMissingCredentials = errors.New("missing matrix credentials")

type Connector struct {
	homeserverURL string
	httpClient    *http.Client
	log           zerolog.Logger
	deviceName    string
}

type ConnectorOption func(*Connector)

func WithHTTPClient(client *http.Client) ConnectorOption {
	return func(c *Connector) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithLogger(log zerolog.Logger) ConnectorOption {
	return func(c *Connector) {
		c.log = log
	}
}

func WithDeviceName(name string) ConnectorOption {
	return func(c *Connector) {
		if strings.TrimSpace(name) != "" {
			c.deviceName = name
		}
	}
}

// NewConnector uses homeserverURL unless an app carries its own.
func NewConnector(homeserverURL string, opts ...ConnectorOption) *Connector {
	c := &Connector{
		homeserverURL: strings.TrimRight(strings.TrimSpace(homeserverURL), "/"),
		log:           zerolog.Nop(),
		deviceName:    "hub-bots",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.log = c.log.With().Str("component", "matrix").Logger()
	return c
}

type credentialMode int

const (
	credentialToken credentialMode = iota + 1
	credentialPassword
)

// selectCredentials prefers a stored access token over a password login.
func selectCredentials(app apps.AppInstance) (credentialMode, error) {
	creds := app.Credentials()
	if strings.TrimSpace(creds.AccessToken) != "" {
		return credentialToken, nil
	}
	if strings.TrimSpace(creds.Password) != "" && loginUser(app) != "" {
		return credentialPassword, nil
	}
	return 0, fmt.Errorf("%w for app %s", ErrMissingCredentials, app.ID)
}

func loginUser(app apps.AppInstance) string {
	if user := strings.TrimSpace(app.Credentials().Username); user != "" {
		return user
	}
	return strings.TrimSpace(app.MatrixUserID)
}

// Connect authenticates app's bot user. It does not start syncing.
func (c *Connector) Connect(ctx context.Context, app apps.AppInstance) (*Conn, error) {
	mode, err := selectCredentials(app)
	if err != nil {
		return nil, err
	}
	creds := app.Credentials()

	homeserver := strings.TrimSpace(creds.HomeserverURL)
	if homeserver == "" {
		homeserver = c.homeserverURL
	}
	if homeserver == "" {
		return nil, fmt.Errorf("homeserver url is required for app %s", app.ID)
	}

	log := c.log.With().Str("instance_id", app.ID).Logger()
	client, err := mautrix.NewClient(homeserver, id.UserID(app.MatrixUserID), "")
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	if c.httpClient != nil {
		client.Client = c.httpClient
	}
	client.Log = log

	switch mode {
	case credentialToken:
		client.AccessToken = strings.TrimSpace(creds.AccessToken)
		client.DeviceID = id.DeviceID(creds.DeviceID)
		if client.UserID == "" {
			whoami, err := client.Whoami(ctx)
			if err != nil {
				return nil, fmt.Errorf("resolve matrix user: %w", err)
			}
			client.UserID = whoami.UserID
			if client.DeviceID == "" {
				client.DeviceID = whoami.DeviceID
			}
		}
		log.Debug().Str("user_id", client.UserID.String()).Msg("reusing stored access token")
	case credentialPassword:
		resp, err := client.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: loginUser(app),
			},
			Password:                 creds.Password,
			DeviceID:                 id.DeviceID(creds.DeviceID),
			InitialDeviceDisplayName: c.deviceName,
			StoreCredentials:         true,
		})
		if err != nil {
			return nil, fmt.Errorf("matrix login: %w", err)
		}
		log.Info().Str("user_id", resp.UserID.String()).Str("device_id", resp.DeviceID.String()).Msg("logged in")
	}

	return newConn(client, log), nil
}

// Conn is one authenticated bot connection.
type Conn struct {
	client *mautrix.Client
	log    zerolog.Logger

	mu      sync.RWMutex
	handler func(context.Context, bot.InboundEvent)
}

func newConn(client *mautrix.Client, log zerolog.Logger) *Conn {
	c := &Conn{client: client, log: log}
	if syncer, ok := client.Syncer.(mautrix.ExtensibleSyncer); ok {
		syncer.OnEventType(event.EventMessage, c.dispatch)
		syncer.OnEventType(event.EventEncrypted, c.dispatch)
		syncer.OnEventType(event.StateMember, c.handleMembership)
	}
	return c
}

func (c *Conn) UserID() string {
	return c.client.UserID.String()
}

// OnEvent registers the callback for room messages, replacing any previous one.
func (c *Conn) OnEvent(handler func(context.Context, bot.InboundEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Run syncs until ctx is cancelled or Stop is called.
func (c *Conn) Run(ctx context.Context) error {
	err := c.client.SyncWithContext(ctx)
	if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("matrix sync: %w", err)
}

func (c *Conn) Stop() {
	c.client.StopSync()
}

func (c *Conn) SendNotice(ctx context.Context, roomID, text string) error {
	if _, err := c.client.SendNotice(ctx, id.RoomID(roomID), text); err != nil {
		return fmt.Errorf("send notice: %w", err)
	}
	return nil
}

func (c *Conn) SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error {
	if _, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, timeout); err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	return nil
}

func (c *Conn) dispatch(ctx context.Context, evt *event.Event) {
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		return
	}
	handler(ctx, toInboundEvent(evt))
}

func (c *Conn) handleMembership(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != c.client.UserID.String() {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite {
		return
	}
	if _, err := c.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		c.log.Warn().Err(err).Str("room_id", evt.RoomID.String()).Msg("join on invite failed")
		return
	}
	c.log.Info().Str("room_id", evt.RoomID.String()).Str("inviter", evt.Sender.String()).Msg("joined room on invite")
}

func toInboundEvent(evt *event.Event) bot.InboundEvent {
	out := bot.InboundEvent{
		EventID: evt.ID.String(),
		RoomID:  evt.RoomID.String(),
		Sender:  evt.Sender.String(),
	}
	if evt.Timestamp > 0 {
		out.OriginTimestamp = time.UnixMilli(evt.Timestamp).UTC()
	}

	if evt.Type == event.EventEncrypted {
		out.ContentType = bot.ContentEncrypted
		return out
	}
	msg := evt.Content.AsMessage()
	switch msg.MsgType {
	case event.MsgText:
		out.ContentType = bot.ContentText
	case "":
		out.ContentType = "unknown"
	default:
		out.ContentType = strings.TrimPrefix(string(msg.MsgType), "m.")
	}
	out.Body = msg.Body
	return out
}
