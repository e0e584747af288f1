// ABOUTME: Winner-selection tie-break chain: greatest cluster size, then action priority,
// ABOUTME: then lower wait score, then lower auto-complete-todo score. Adapted from the pipeline
// ABOUTME: engine's condition > preferred-label > suggested-id > weight > lexical edge-selection chain.
package consensus

// PriorityTable maps an action name to its relative priority; higher wins.
// Unregistered actions default to priority 0.
type PriorityTable map[string]int

// PriorityOf returns t[name], or 0 if name is not registered.
func (t PriorityTable) PriorityOf(name string) int {
	if t == nil {
		return 0
	}
	return t[name]
}

// clusterPriority is the action priority of a cluster: the representative
// action's priority, or — for batch clusters — the max priority over its
// sub-actions.
func clusterPriority(c cluster, priorities PriorityTable) int {
	action := c.representative()
	if action.Name != actionBatchSync && action.Name != actionBatchAsync {
		return priorities.PriorityOf(action.Name)
	}
	subTypes := batchSubActionTypes(action.Params)
	max := 0
	for i, t := range subTypes {
		p := priorities.PriorityOf(t)
		if i == 0 || p > max {
			max = p
		}
	}
	return max
}

// waitScore is the pair (count of blocking waits, sum of finite wait
// seconds) across a cluster's members. Lower is more conservative and wins.
type waitScore struct {
	blockingCount int
	secondsSum    int
}

func (w waitScore) less(other waitScore) bool {
	if w.blockingCount != other.blockingCount {
		return w.blockingCount < other.blockingCount
	}
	return w.secondsSum < other.secondsSum
}

func clusterWaitScore(c cluster) waitScore {
	var s waitScore
	for _, m := range c.members {
		if m.Action.Wait.Block {
			s.blockingCount++
		}
		if m.Action.Wait.Seconds > 0 {
			s.secondsSum += m.Action.Wait.Seconds
		}
	}
	return s
}

// autoCompleteScore mirrors waitScore's pair shape: count of members that
// set auto_complete_todo, with the second component held at zero (there is
// no analogous "seconds" dimension for a boolean flag).
type autoCompleteScore struct {
	trueCount int
}

func (a autoCompleteScore) less(other autoCompleteScore) bool {
	return a.trueCount < other.trueCount
}

func clusterAutoCompleteScore(c cluster) autoCompleteScore {
	var s autoCompleteScore
	for _, m := range c.members {
		if m.Action.AutoCompleteTodo {
			s.trueCount++
		}
	}
	return s
}

// selectWinner chooses the cluster to act on: greatest size first, then the
// lexicographic chain of priority > wait score > auto-complete-todo score.
// Panics on an empty slice — callers must guard for zero responses upstream.
func selectWinner(clusters []cluster, priorities PriorityTable) cluster {
	best := clusters[0]
	for _, c := range clusters[1:] {
		if beats(c, best, priorities) {
			best = c
		}
	}
	return best
}

// beats reports whether candidate should replace current as the winner.
func beats(candidate, current cluster, priorities PriorityTable) bool {
	if candidate.size() != current.size() {
		return candidate.size() > current.size()
	}

	cp, bp := clusterPriority(candidate, priorities), clusterPriority(current, priorities)
	if cp != bp {
		return cp > bp
	}

	cw, bw := clusterWaitScore(candidate), clusterWaitScore(current)
	if cw != bw {
		return cw.less(bw)
	}

	ca, ba := clusterAutoCompleteScore(candidate), clusterAutoCompleteScore(current)
	if ca != ba {
		return ca.less(ba)
	}

	return false
}
