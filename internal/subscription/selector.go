package subscription

import (
	"context"
	"sort"

	"github.com/Gothik99/botweb/internal/settings"
)

// chooseNode picks the node a new credential should land on: excluded
// nodes are dropped, unreachable nodes are skipped, capped nodes at or
// above their ledger-counted active subscriptions are skipped, and the
// survivors are ordered by (priority, active count) with the configured
// node order as the stable tie-break.
//
// Capacity is judged from the ledger, not the panel: the ledger counts
// billed users and costs no extra round trip.
func (s *Service) chooseNode(ctx context.Context) (settings.Node, error) {
	nodes, err := s.nodes.Nodes()
	if err != nil {
		return settings.Node{}, err
	}

	type candidate struct {
		node  settings.Node
		count int64
	}
	var candidates []candidate

	for _, node := range nodes {
		if node.ExcludeFromAuto {
			continue
		}
		if err := s.gw.Probe(ctx, node); err != nil {
			s.log.Warn().Err(err).Int("node", node.ID).Str("name", node.Name).Msg("node unreachable, skipping")
			continue
		}
		count, err := s.ledger.CountActiveOnNode(ctx, node.ID)
		if err != nil {
			s.log.Error().Err(err).Int("node", node.ID).Msg("failed to count active subscriptions, skipping node")
			continue
		}
		if node.MaxClients > 0 && count >= int64(node.MaxClients) {
			s.log.Info().Int("node", node.ID).Int64("count", count).Int("cap", node.MaxClients).
				Msg("node at capacity, skipping")
			continue
		}
		candidates = append(candidates, candidate{node: node, count: count})
	}

	if len(candidates) == 0 {
		return settings.Node{}, ErrNoAvailableNode
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].node.Priority != candidates[j].node.Priority {
			return candidates[i].node.Priority < candidates[j].node.Priority
		}
		return candidates[i].count < candidates[j].count
	})

	best := candidates[0]
	s.log.Info().Int("node", best.node.ID).Str("name", best.node.Name).
		Int64("active", best.count).Msg("node selected")
	return best.node, nil
}
