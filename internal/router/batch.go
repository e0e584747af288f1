// ABOUTME: batch_sync (sequential, stop-on-error) and batch_async (concurrent, isolated errors) dispatch.
package router

import (
	"context"
	"fmt"
	"sync"
)

// subAction is one entry of a batch action's params["actions"] array.
type subAction struct {
	actionType string
	params     map[string]any
}

func parseSubActions(params map[string]any) ([]subAction, error) {
	raw, ok := params["actions"]
	if !ok {
		return nil, fmt.Errorf("router: batch action missing required %q field", "actions")
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("router: batch action %q field must be an array", "actions")
	}

	subs := make([]subAction, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("router: batch sub-action %d must be an object", i)
		}
		actionType, _ := m["action"].(string)
		if actionType == "" {
			return nil, fmt.Errorf("router: batch sub-action %d missing required %q field", i, "action")
		}
		subParams, _ := m["params"].(map[string]any)
		subs = append(subs, subAction{actionType: actionType, params: subParams})
	}
	return subs, nil
}

// runBatchSync executes sub-actions strictly in order, stopping at the first
// error, and delivers a single aggregated ActionResult.
func (r *Router) runBatchSync(ctx context.Context) {
	subs, err := parseSubActions(r.Params)
	if err != nil {
		r.Callback.DeliverActionResult(r.ActionID, ActionResult{Err: err})
		return
	}

	results := make([]ActionResult, 0, len(subs))
	for _, sub := range subs {
		res := r.runSingle(ctx, sub.actionType, sub.params, func(ActionResult) {})
		results = append(results, res)
		if res.Err != nil {
			break
		}
	}

	ok := true
	for _, res := range results {
		if res.Err != nil {
			ok = false
			break
		}
	}
	r.Callback.DeliverActionResult(r.ActionID, ActionResult{OK: ok, Value: results})
}

// runBatchAsync executes all sub-actions concurrently. Each sub-action's
// error is isolated to that sub-action; its result streams back via
// DeliverBatchAsyncResult as soon as it completes, and a final
// DeliverBatchCompleted summary follows once every sub-action has finished.
func (r *Router) runBatchAsync(ctx context.Context) {
	subs, err := parseSubActions(r.Params)
	if err != nil {
		r.Callback.DeliverActionResult(r.ActionID, ActionResult{Err: err})
		return
	}

	results := make([]ActionResult, len(subs))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, sub := range subs {
		i, sub := i, sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := r.runSingle(ctx, sub.actionType, sub.params, func(ActionResult) {})

			mu.Lock()
			results[i] = res
			mu.Unlock()

			r.Callback.DeliverBatchAsyncResult(r.ActionID, sub.actionType, res)
		}()
	}
	wg.Wait()

	succeeded, failed := 0, 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	r.Callback.DeliverBatchCompleted(r.ActionID, len(results), succeeded, failed, results)
}
