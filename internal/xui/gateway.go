package xui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Gothik99/botweb/internal/settings"
)

var (
	// ErrUnreachable means the node is offline or authentication failed.
	// Callers treat it as "node offline", not as a fatal condition.
	ErrUnreachable = errors.New("xui: node unreachable")
	// ErrDuplicateClient means the alias already exists on create.
	// Not retryable with the same alias.
	ErrDuplicateClient = errors.New("xui: client alias already exists")
	// ErrRecoveryFailed means the credential was gone remotely and
	// recreating it did not bring it back.
	ErrRecoveryFailed = errors.New("xui: client recovery failed")
	// ErrUpdateRejected means the panel refused a well-formed update.
	ErrUpdateRejected = errors.New("xui: update rejected")
)

const (
	addRetries    = 2
	addRetryDelay = 500 * time.Millisecond
)

// Identifier names a credential for deletion either by its opaque id or by
// its alias. Use ByID or ByAlias; the zero value matches nothing.
type Identifier struct {
	id    string
	alias string
}

func ByID(id string) Identifier       { return Identifier{id: id} }
func ByAlias(alias string) Identifier { return Identifier{alias: alias} }

func (i Identifier) String() string {
	if i.id != "" {
		return i.id
	}
	return i.alias
}

// Gateway performs credential mutations against panel nodes, caching one
// authenticated session per node. A cached session is probed before reuse
// and dropped on failure; a concurrent replacement race only costs a
// redundant re-login.
type Gateway struct {
	mu    sync.Mutex
	conns map[int]*panelClient

	// AliasDomain supplies the domain new aliases are namespaced under.
	aliasDomain func() string
	log         zerolog.Logger
}

func NewGateway(aliasDomain func() string, logger zerolog.Logger) *Gateway {
	return &Gateway{
		conns:       make(map[int]*panelClient),
		aliasDomain: aliasDomain,
		log:         logger,
	}
}

// connect returns a live session for the node, reusing the cached one when
// its liveness probe still passes.
func (g *Gateway) connect(ctx context.Context, node settings.Node) (*panelClient, error) {
	g.mu.Lock()
	cached := g.conns[node.ID]
	g.mu.Unlock()

	if cached != nil {
		if _, err := cached.status(ctx); err == nil {
			return cached, nil
		}
		g.log.Warn().Int("node", node.ID).Msg("cached panel session failed probe, reconnecting")
		g.mu.Lock()
		if g.conns[node.ID] == cached {
			delete(g.conns, node.ID)
		}
		g.mu.Unlock()
	}

	client := newPanelClient(node.APIBase(), node.Username, node.Password)
	if err := client.login(ctx); err != nil {
		g.log.Error().Err(err).Int("node", node.ID).Str("name", node.Name).Msg("panel login failed")
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if _, err := client.getInbound(ctx, node.InboundID); err != nil {
		g.log.Error().Err(err).Int("node", node.ID).Int("inbound", node.InboundID).Msg("inbound lookup failed")
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	g.mu.Lock()
	g.conns[node.ID] = client
	g.mu.Unlock()
	g.log.Info().Int("node", node.ID).Str("name", node.Name).Msg("panel session established")
	return client, nil
}

// Probe reports whether the node is currently reachable.
func (g *Gateway) Probe(ctx context.Context, node settings.Node) error {
	_, err := g.connect(ctx, node)
	return err
}

// Status returns the node's health counters.
func (g *Gateway) Status(ctx context.Context, node settings.Node) (*ServerStatus, error) {
	client, err := g.connect(ctx, node)
	if err != nil {
		return nil, err
	}
	st, err := client.status(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return st, nil
}

// Create provisions a brand-new credential on the node: fresh uuid, alias
// derived from the Telegram id plus a random suffix, expiry now + days.
// Submission is retried once on transient failure; an alias collision is
// surfaced as ErrDuplicateClient and never retried with the same alias.
func (g *Gateway) Create(ctx context.Context, node settings.Node, telegramID int64, daysValid, limitIP int) (*Credential, error) {
	client, err := g.connect(ctx, node)
	if err != nil {
		return nil, err
	}

	inbound, err := client.getInbound(ctx, node.InboundID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	clientUUID := uuid.New().String()
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	email := fmt.Sprintf("tg%d_%s@%s", telegramID, suffix, g.aliasDomain())
	expiry := time.Now().UTC().Add(time.Duration(daysValid) * 24 * time.Hour)

	if limitIP == 0 {
		limitIP = node.DefaultLimitIP
	}

	newClient := Client{
		ID:         clientUUID,
		Email:      email,
		Enable:     true,
		Flow:       inbound.FlowValue(),
		TgID:       fmt.Sprintf("%d", telegramID),
		TotalGB:    0,
		ExpiryTime: timeToMs(expiry),
		LimitIP:    limitIP,
		SubID:      clientUUID,
	}

	var lastErr error
	for attempt := 1; attempt <= addRetries; attempt++ {
		lastErr = client.addClients(ctx, node.InboundID, []Client{newClient})
		if lastErr == nil {
			g.log.Info().Int("node", node.ID).Str("email", email).Str("uuid", clientUUID).Msg("panel client created")
			return &Credential{UUID: clientUUID, Email: email, Expiry: expiry}, nil
		}
		if isAlreadyExists(lastErr) {
			g.log.Error().Int("node", node.ID).Str("email", email).Msg("alias collision on create")
			return nil, fmt.Errorf("%w: %s", ErrDuplicateClient, email)
		}
		g.log.Warn().Err(lastErr).Int("attempt", attempt).Str("email", email).Msg("add client attempt failed")
		if attempt < addRetries {
			select {
			case <-time.After(addRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("failed to create panel client after %d attempts: %w", addRetries, lastErr)
}

// Update extends a credential's expiry. If the credential has silently
// vanished from the panel it is recreated under the same uuid and alias
// before the update is applied; the update write itself then repairs any
// expiry drift the recreation could have left behind.
//
// The new expiry is expiryHint + days when the hint is still in the
// future, otherwise now + days.
func (g *Gateway) Update(ctx context.Context, node settings.Node, clientUUID, alias string, newDaysValid int, expiryHint *time.Time, limitIP int) (*Credential, error) {
	client, err := g.connect(ctx, node)
	if err != nil {
		return nil, err
	}

	inbound, err := client.getInbound(ctx, node.InboundID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	newExpiry := targetExpiry(expiryHint, newDaysValid, time.Now().UTC())

	existing, err := inbound.FindClient(clientUUID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpdateRejected, err)
	}
	if existing == nil {
		g.log.Warn().Int("node", node.ID).Str("uuid", clientUUID).Str("email", alias).Msg("client missing remotely, recreating")
		existing, err = g.recreate(ctx, client, node, inbound, clientUUID, alias, newExpiry, limitIP)
		if err != nil {
			return nil, err
		}
	}

	updated := Client{
		ID:         existing.ID,
		Email:      existing.Email,
		Enable:     true,
		Flow:       existing.Flow,
		TgID:       existing.TgID,
		TotalGB:    0,
		ExpiryTime: timeToMs(newExpiry),
		LimitIP:    pickLimit(limitIP, existing.LimitIP, node.DefaultLimitIP),
		SubID:      existing.SubID,
	}
	if updated.SubID == "" {
		updated.SubID = existing.ID
	}

	if err := client.updateClient(ctx, node.InboundID, existing.ID, updated); err != nil {
		g.log.Error().Err(err).Int("node", node.ID).Str("uuid", existing.ID).Msg("panel client update failed")
		return nil, fmt.Errorf("%w: %v", ErrUpdateRejected, err)
	}

	g.log.Info().Int("node", node.ID).Str("uuid", existing.ID).Time("expiry", newExpiry).Msg("panel client updated")
	return &Credential{UUID: existing.ID, Email: existing.Email, Expiry: newExpiry}, nil
}

// recreate resubmits a credential under its previously recorded uuid and
// alias, then re-fetches the inbound to hand back the live row. An
// "already exists" answer counts as success: the goal state already holds.
func (g *Gateway) recreate(ctx context.Context, client *panelClient, node settings.Node, inbound *Inbound, clientUUID, alias string, expiry time.Time, limitIP int) (*Client, error) {
	restored := Client{
		ID:         clientUUID,
		Email:      alias,
		Enable:     true,
		Flow:       inbound.FlowValue(),
		TotalGB:    0,
		ExpiryTime: timeToMs(expiry),
		LimitIP:    pickLimit(limitIP, 0, node.DefaultLimitIP),
		SubID:      clientUUID,
	}

	if err := client.addClients(ctx, node.InboundID, []Client{restored}); err != nil && !isAlreadyExists(err) {
		g.log.Error().Err(err).Int("node", node.ID).Str("uuid", clientUUID).Msg("client recreation failed")
		return nil, fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}

	fresh, err := client.getInbound(ctx, node.InboundID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}
	found, err := fresh.FindClient(clientUUID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}
	if found == nil {
		return nil, fmt.Errorf("%w: client %s absent after recreation", ErrRecoveryFailed, clientUUID)
	}
	g.log.Info().Int("node", node.ID).Str("uuid", clientUUID).Msg("client recreated on panel")
	return found, nil
}

// Delete removes a credential addressed by id or alias. Idempotent: a
// credential that is already gone yields (false, nil).
func (g *Gateway) Delete(ctx context.Context, node settings.Node, ident Identifier) (bool, error) {
	client, err := g.connect(ctx, node)
	if err != nil {
		return false, err
	}

	inbound, err := client.getInbound(ctx, node.InboundID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	lookup := ident.id
	if lookup == "" {
		lookup = ident.alias
	}
	found, err := inbound.FindClient(lookup)
	if err != nil {
		return false, fmt.Errorf("failed to look up client %s: %w", ident.String(), err)
	}
	if found == nil {
		g.log.Debug().Int("node", node.ID).Str("ident", ident.String()).Msg("client already absent, nothing to delete")
		return false, nil
	}

	if err := client.deleteClient(ctx, node.InboundID, found.ID); err != nil {
		return false, fmt.Errorf("failed to delete client %s: %w", found.ID, err)
	}
	g.log.Info().Int("node", node.ID).Str("uuid", found.ID).Msg("panel client deleted")
	return true, nil
}

// CountActive returns the number of enabled credentials on the node's
// inbound. Only a capacity signal; the ledger stays the billing truth.
func (g *Gateway) CountActive(ctx context.Context, node settings.Node) (int, error) {
	client, err := g.connect(ctx, node)
	if err != nil {
		return 0, err
	}
	inbound, err := client.getInbound(ctx, node.InboundID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	clients, err := inbound.Clients()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, c := range clients {
		if c.Enable {
			count++
		}
	}
	return count, nil
}

// targetExpiry implements the renewal base rule: extend from the hint when
// it is still in the future, otherwise restart from now.
func targetExpiry(hint *time.Time, days int, now time.Time) time.Time {
	base := now
	if hint != nil && hint.After(now) {
		base = hint.UTC()
	}
	return base.Add(time.Duration(days) * 24 * time.Hour)
}

func pickLimit(requested, existing, nodeDefault int) int {
	if requested != 0 {
		return requested
	}
	if existing != 0 {
		return existing
	}
	return nodeDefault
}

func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists")
}
