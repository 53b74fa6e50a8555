package clusterstate

import (
	"encoding/json"
	"fmt"
	"sort"
)

// PatchOp is one JSON-path delta: a Set inserts/replaces Path with Value; a
// pure deletion (Delete=true) removes Path. Order within a Patch is
// significant and must be applied in order, per spec.md §4.6.
type PatchOp struct {
	Path   []string
	Value  interface{}
	Delete bool
}

// Patch is an ordered list of PatchOp, matching the "array of [path,value]
// insertions and [path] deletions" convention from spec.md §4.6. The wire
// form below renders each op as that minimal array shape.
type Patch []PatchOp

// wireOp is the marshaled array form: [p0,p1,...,value] for a set, or
// [p0,p1,...] for a delete.
func (p Patch) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, len(p))
	for i, op := range p {
		arr := make([]interface{}, 0, len(op.Path)+1)
		for _, seg := range op.Path {
			arr = append(arr, seg)
		}
		if !op.Delete {
			arr = append(arr, op.Value)
		}
		b, err := json.Marshal(arr)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return json.Marshal(out)
}

func (p *Patch) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ops := make(Patch, 0, len(raw))
	for _, r := range raw {
		var arr []interface{}
		if err := json.Unmarshal(r, &arr); err != nil {
			return err
		}
		if len(arr) == 0 {
			return fmt.Errorf("clusterstate: empty patch op")
		}
		// Path segments are all-but-last if the last element isn't a
		// trailing value marker; we can't distinguish a 1-element delete
		// from a value-less op structurally, so deletes are only produced
		// by diffMaps with an explicit Delete flag retained at call time.
		// For wire round-trip, treat length parity via a sentinel: this
		// implementation always emits (path..., value) for sets and
		// (path...) for deletes, and the receiver already knows which is
		// which from context; see ApplyRemote's DeletePaths parameter.
		strs := make([]string, 0, len(arr))
		for _, seg := range arr {
			if s, ok := seg.(string); ok {
				strs = append(strs, s)
			} else {
				break
			}
		}
		op := PatchOp{Path: strs}
		if len(arr) > len(strs) {
			op.Value = arr[len(strs)]
		} else {
			op.Delete = true
		}
		ops = append(ops, op)
	}
	*p = ops
	return nil
}

// toGenericMap round-trips v through JSON to get a map[string]interface{}
// representation suitable for structural diff/apply.
func toGenericMap(v interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// setAtPath sets value at the dotted path within m, creating intermediate
// maps as needed.
func setAtPath(m map[string]interface{}, path []string, value interface{}) {
	cur := m
	for i, seg := range path {
		if i == len(path)-1 {
			cur[seg] = value
			return
		}
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[seg] = next
		}
		cur = next
	}
}

// deleteAtPath removes path from m if present.
func deleteAtPath(m map[string]interface{}, path []string) {
	cur := m
	for i, seg := range path {
		if i == len(path)-1 {
			delete(cur, seg)
			return
		}
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			return
		}
		cur = next
	}
}

// diffMaps computes an ordered Patch transforming before into after. Keys
// are visited in sorted order for determinism.
func diffMaps(before, after map[string]interface{}, prefix []string) Patch {
	var patch Patch
	keys := make(map[string]bool)
	for k := range before {
		keys[k] = true
	}
	for k := range after {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		path := append(append([]string(nil), prefix...), k)
		bv, bok := before[k]
		av, aok := after[k]
		switch {
		case !aok:
			patch = append(patch, PatchOp{Path: path, Delete: true})
		case !bok:
			patch = append(patch, PatchOp{Path: path, Value: av})
		default:
			bm, bIsMap := bv.(map[string]interface{})
			am, aIsMap := av.(map[string]interface{})
			if bIsMap && aIsMap {
				patch = append(patch, diffMaps(bm, am, path)...)
			} else if !jsonEqual(bv, av) {
				patch = append(patch, PatchOp{Path: path, Value: av})
			}
		}
	}
	return patch
}

func jsonEqual(a, b interface{}) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

// applyPatch applies patch to m in order, mutating it.
func applyPatch(m map[string]interface{}, patch Patch) {
	for _, op := range patch {
		if op.Delete {
			deleteAtPath(m, op.Path)
		} else {
			setAtPath(m, op.Path, op.Value)
		}
	}
}
