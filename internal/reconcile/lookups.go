package reconcile

import "github.com/roach88/bufsync/internal/ir"

// idKeys are the sub-fields that carry the id of a nested reference.
var idKeys = []string{"id", "Id", "_id"}

// MayTarget reports whether lf could resolve to changedList for some
// record. Dynamic lookups always may.
func MayTarget(lf ir.LookupField, changedList string) bool {
	if lf.IsDynamic() {
		return true
	}
	return lf.StaticTarget() == changedList
}

// MatchingLookups returns, in declaration order, every lookup of the type
// whose target list for this record is changedList. A dynamic lookup
// matches only when the record's companion field currently names
// changedList.
func MatchingLookups(lookups []ir.LookupField, fields ir.IRObject, changedList string) []ir.LookupField {
	var out []ir.LookupField
	for _, lf := range lookups {
		if lf.IsDynamic() {
			target, ok := fields[lf.DynamicTargetField].(ir.IRString)
			if !ok || string(target) != changedList {
				continue
			}
			out = append(out, lf)
			continue
		}
		if lf.StaticTarget() == changedList {
			out = append(out, lf)
		}
	}
	return out
}

// RewriteReferences replaces oldID with newID in every lookup of fields
// that targets changedList, and returns the number of ids replaced. fields
// is modified in place.
func RewriteReferences(fields ir.IRObject, lookups []ir.LookupField, changedList string, oldID, newID int64) int {
	total := 0
	for _, lf := range MatchingLookups(lookups, fields, changedList) {
		v, ok := fields[lf.Name]
		if !ok {
			continue
		}
		if rewritten, n := rewriteValue(v, oldID, newID); n > 0 {
			fields[lf.Name] = rewritten
			total += n
		}
	}
	return total
}

// rewriteValue replaces oldID in a bare id, a reference object or an array
// of either. The input is never modified.
func rewriteValue(v ir.IRValue, oldID, newID int64) (ir.IRValue, int) {
	switch val := v.(type) {
	case ir.IRInt:
		if int64(val) == oldID {
			return ir.IRInt(newID), 1
		}
	case ir.IRObject:
		for _, key := range idKeys {
			id, ok := val[key].(ir.IRInt)
			if !ok {
				continue
			}
			if int64(id) != oldID {
				return v, 0
			}
			out := val.Clone()
			out[key] = ir.IRInt(newID)
			return out, 1
		}
	case ir.IRArray:
		var out ir.IRArray
		total := 0
		for i, elem := range val {
			rewritten, n := rewriteValue(elem, oldID, newID)
			if n == 0 {
				continue
			}
			if out == nil {
				out = make(ir.IRArray, len(val))
				copy(out, val)
			}
			out[i] = rewritten
			total += n
		}
		if total > 0 {
			return out, total
		}
	}
	return v, 0
}

// rewriteOwnID replaces the snapshot's own id when it is oldID.
func rewriteOwnID(fields ir.IRObject, oldID, newID int64) int {
	for _, key := range idKeys {
		id, ok := fields[key].(ir.IRInt)
		if !ok {
			continue
		}
		if int64(id) == oldID {
			fields[key] = ir.IRInt(newID)
			return 1
		}
		return 0
	}
	return 0
}
