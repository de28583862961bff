package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Gothik99/botweb/internal/models"
	"github.com/Gothik99/botweb/internal/settings"
	"github.com/Gothik99/botweb/internal/store"
	"github.com/Gothik99/botweb/internal/xui"
)

var (
	// ErrNoAvailableNode means no node survived selection filtering.
	ErrNoAvailableNode = errors.New("subscription: no available node")
	// ErrNodeConfigMissing means a ledger record references a node id that
	// was removed from configuration. Renewal fails closed instead of
	// silently moving the user to a different node.
	ErrNodeConfigMissing = errors.New("subscription: node configuration missing")
)

// Ledger is the slice of the subscription store the orchestrator needs.
type Ledger interface {
	GetLatest(ctx context.Context, telegramID int64) (*models.User, error)
	UpsertGrant(ctx context.Context, rec store.GrantRecord) error
	CountActiveOnNode(ctx context.Context, nodeID int) (int64, error)
}

// Gateway mutates credentials on panel nodes.
type Gateway interface {
	Probe(ctx context.Context, node settings.Node) error
	Create(ctx context.Context, node settings.Node, telegramID int64, daysValid, limitIP int) (*xui.Credential, error)
	Update(ctx context.Context, node settings.Node, clientUUID, alias string, newDaysValid int, expiryHint *time.Time, limitIP int) (*xui.Credential, error)
}

// NodeSource hands out node descriptors, re-read per operation: capacity,
// priority and exclusion flags are editable between calls.
type NodeSource interface {
	Nodes() ([]settings.Node, error)
	Node(id int) (settings.Node, bool, error)
}

// Grant is the user-facing result of a successful grant or renewal.
type Grant struct {
	Expiry time.Time
	Link   string
}

// Service is the grant/renew orchestrator. It is the only component
// allowed to combine gateway mutations with ledger writes, and the panel
// mutation always completes before the ledger claims the credential exists.
// Operations for the same user are serialized through a keyed mutex.
type Service struct {
	ledger Ledger
	gw     Gateway
	nodes  NodeSource
	log    zerolog.Logger

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

func NewService(ledger Ledger, gw Gateway, nodes NodeSource, logger zerolog.Logger) *Service {
	return &Service{
		ledger: ledger,
		gw:     gw,
		nodes:  nodes,
		log:    logger,
		locks:  make(map[int64]*sync.Mutex),
	}
}

func (s *Service) userLock(telegramID int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[telegramID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[telegramID] = mu
	}
	return mu
}

// Grant establishes or extends the user's subscription by daysToAdd days
// and returns the new expiry with a connection link.
//
// Renewal keeps the user's node and credential; a missing credential on the
// panel is repaired inside the gateway. A record whose node vanished from
// configuration fails with ErrNodeConfigMissing before any panel call.
func (s *Service) Grant(ctx context.Context, telegramID int64, daysToAdd int, isTrial bool, limitIP int) (*Grant, error) {
	mu := s.userLock(telegramID)
	mu.Lock()
	defer mu.Unlock()

	latest, err := s.ledger.GetLatest(ctx, telegramID)
	if err != nil {
		return nil, err
	}

	if latest != nil && latest.ClientUUID != "" && latest.ServerID != 0 {
		return s.renew(ctx, latest, daysToAdd, isTrial, limitIP)
	}
	return s.create(ctx, telegramID, daysToAdd, isTrial, limitIP)
}

func (s *Service) renew(ctx context.Context, latest *models.User, daysToAdd int, isTrial bool, limitIP int) (*Grant, error) {
	node, ok, err := s.nodes.Node(latest.ServerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.log.Error().Int64("user", latest.TelegramID).Int("node", latest.ServerID).
			Msg("renewal refers to a node missing from configuration")
		return nil, fmt.Errorf("%w: node %d", ErrNodeConfigMissing, latest.ServerID)
	}

	cred, err := s.gw.Update(ctx, node, latest.ClientUUID, latest.ClientEmail, daysToAdd, latest.SubscriptionEnd, limitIP)
	if err != nil {
		return nil, fmt.Errorf("failed to renew subscription for %d: %w", latest.TelegramID, err)
	}

	err = s.ledger.UpsertGrant(ctx, store.GrantRecord{
		TelegramID:  latest.TelegramID,
		ClientUUID:  cred.UUID,
		ClientEmail: cred.Email,
		NodeID:      node.ID,
		Expiry:      cred.Expiry,
		LimitIP:     limitIP,
		IsTrial:     isTrial,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int64("user", latest.TelegramID).Int("node", node.ID).
		Time("expiry", cred.Expiry).Msg("subscription renewed")
	return &Grant{Expiry: cred.Expiry, Link: Link(node, cred.UUID)}, nil
}

func (s *Service) create(ctx context.Context, telegramID int64, daysToAdd int, isTrial bool, limitIP int) (*Grant, error) {
	node, err := s.chooseNode(ctx)
	if err != nil {
		return nil, err
	}

	cred, err := s.gw.Create(ctx, node, telegramID, daysToAdd, limitIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription for %d: %w", telegramID, err)
	}

	err = s.ledger.UpsertGrant(ctx, store.GrantRecord{
		TelegramID:  telegramID,
		ClientUUID:  cred.UUID,
		ClientEmail: cred.Email,
		NodeID:      node.ID,
		Expiry:      cred.Expiry,
		LimitIP:     limitIP,
		IsTrial:     isTrial,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int64("user", telegramID).Int("node", node.ID).
		Time("expiry", cred.Expiry).Msg("subscription created")
	return &Grant{Expiry: cred.Expiry, Link: Link(node, cred.UUID)}, nil
}

// ActiveLink rebuilds the connection link for an existing credential.
func (s *Service) ActiveLink(user *models.User) (string, error) {
	node, ok, err := s.nodes.Node(user.ServerID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: node %d", ErrNodeConfigMissing, user.ServerID)
	}
	return Link(node, user.ClientUUID), nil
}
