// ABOUTME: Clusters per-cycle responses by action identity and canonicalized params.
// ABOUTME: batch_sync fingerprints by ordered sub-action sequence; batch_async by sorted sub-action set.
package consensus

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/2389-research/quoracle/internal/oracle"
)

const (
	actionBatchSync  = "batch_sync"
	actionBatchAsync = "batch_async"
)

// fingerprint returns a stable string identity for an action: its name plus
// a canonical JSON encoding of its params (Go's encoding/json always sorts
// map[string]any keys, giving us canonicalization for free), with the two
// batch actions fingerprinted by their sub-action type sequence instead.
func fingerprint(a oracle.Action) string {
	switch a.Name {
	case actionBatchSync:
		return actionBatchSync + ":" + strings.Join(batchSubActionTypes(a.Params), ",")
	case actionBatchAsync:
		types := batchSubActionTypes(a.Params)
		sorted := append([]string(nil), types...)
		sort.Strings(sorted)
		return actionBatchAsync + ":" + strings.Join(sorted, ",")
	default:
		body, err := json.Marshal(a.Params)
		if err != nil {
			body = []byte("?")
		}
		return a.Name + ":" + string(body)
	}
}

// batchSubActionTypes extracts the ordered list of sub-action type names from
// a batch action's params["actions"] array, tolerating missing or malformed
// entries (they contribute an empty type rather than failing clustering).
func batchSubActionTypes(params map[string]any) []string {
	raw, ok := params["actions"]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	types := make([]string, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			types = append(types, "")
			continue
		}
		name, _ := m["action"].(string)
		types = append(types, name)
	}
	return types
}

// cluster groups all responses that share a fingerprint.
type cluster struct {
	fingerprint string
	members     []Response
}

func (c cluster) size() int { return len(c.members) }

// representative returns the action all members of this cluster agree on
// (by construction any member's action is representative of the cluster).
func (c cluster) representative() oracle.Action { return c.members[0].Action }

// clusterResponses groups the OK responses from one round by fingerprint, in
// first-seen order (so clustering is deterministic for equal-size ties before
// the tie-break chain runs).
func clusterResponses(responses []Response) []cluster {
	order := make([]string, 0, len(responses))
	byFP := make(map[string]*cluster)

	for _, r := range responses {
		if !r.OK() {
			continue
		}
		fp := fingerprint(r.Action)
		c, exists := byFP[fp]
		if !exists {
			c = &cluster{fingerprint: fp}
			byFP[fp] = c
			order = append(order, fp)
		}
		c.members = append(c.members, r)
	}

	clusters := make([]cluster, 0, len(order))
	for _, fp := range order {
		clusters = append(clusters, *byFP[fp])
	}
	return clusters
}
