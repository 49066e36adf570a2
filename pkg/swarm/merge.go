package swarm

import (
	"github.com/aegiskernel/aegis/pkg/types"
)

// Merge combines step results in declared order:
//
//   - overall status is success iff all steps succeeded, failure iff all
//     failed, partial otherwise
//   - maps merge last-wins, arrays concatenate, scalars are overwritten by
//     later steps
//   - artifacts concatenate in step order
//   - costs sum component-wise
func Merge(results []*types.WorkerResult) *types.WorkerResult {
	if len(results) == 0 {
		return &types.WorkerResult{Status: types.ResultFailure, Errors: []string{"no steps executed"}}
	}

	merged := &types.WorkerResult{
		Data: make(map[string]any),
	}

	succeeded, failed := 0, 0
	for _, r := range results {
		switch r.Status {
		case types.ResultFailure:
			failed++
		default:
			succeeded++
		}

		for k, v := range r.Data {
			merged.Data[k] = mergeValue(merged.Data[k], v)
		}
		merged.Artifacts = append(merged.Artifacts, r.Artifacts...)
		merged.Cost = merged.Cost.Add(r.Cost)
		merged.Errors = append(merged.Errors, r.Errors...)
	}

	switch {
	case failed == 0:
		merged.Status = types.ResultSuccess
	case succeeded == 0:
		merged.Status = types.ResultFailure
	default:
		merged.Status = types.ResultPartial
	}
	return merged
}

// mergeValue applies the per-key policy: nested maps merge last-wins,
// arrays concatenate, anything else is overwritten by the later step
func mergeValue(prev, next any) any {
	if prev == nil {
		return next
	}

	if prevMap, ok := prev.(map[string]any); ok {
		if nextMap, ok := next.(map[string]any); ok {
			out := make(map[string]any, len(prevMap)+len(nextMap))
			for k, v := range prevMap {
				out[k] = v
			}
			for k, v := range nextMap {
				out[k] = mergeValue(out[k], v)
			}
			return out
		}
	}

	if prevArr, ok := prev.([]any); ok {
		if nextArr, ok := next.([]any); ok {
			return append(append([]any(nil), prevArr...), nextArr...)
		}
	}

	return next
}
