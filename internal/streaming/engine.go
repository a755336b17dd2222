package streaming

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Record is one array element judged complete and cleaned for emission.
type Record struct {
	DataType string
	Index    int
	ID       string
	Fields   map[string]interface{}
}

// Engine walks the descriptor registry against a parsed snapshot and decides
// which elements are newly ready to emit. All mutable state lives in the
// per-request Ledger; the engine itself is shared across requests.
type Engine struct {
	registry *Registry
	logger   *zap.Logger
}

// NewEngine creates an engine over the given registry.
func NewEngine(registry *Registry, logger *zap.Logger) *Engine {
	return &Engine{
		registry: registry,
		logger:   logger.Named("streaming-engine"),
	}
}

// Collect returns the records that became complete since the previous call
// with the same ledger. Calling it again with the same or a more complete
// snapshot never returns a previously emitted key. A snapshot where an element
// regressed is tolerated: the element is treated as not yet complete.
func (e *Engine) Collect(snapshot interface{}, ledger *Ledger) []Record {
	var records []Record

	for _, desc := range e.registry.Descriptors() {
		elements, ok := resolveElements(snapshot, desc)
		if !ok {
			// The array has not appeared in the payload yet. Normal mid-stream.
			continue
		}

		for i := ledger.NextIndex(desc.Name); i < len(elements); i++ {
			elem, ok := elements[i].(map[string]interface{})
			if !ok || !isComplete(elem, desc) {
				// Incomplete trailing element; revisit next cycle. Stopping
				// here keeps per-type emission order non-decreasing.
				break
			}

			id, found := identifierOf(elem, desc, i)
			if !found {
				e.logger.Warn("element identifier missing, falling back to index",
					zap.String("data_type", desc.Name),
					zap.Int("index", i))
			}

			if ledger.Seen(desc.Name, id) {
				e.logger.Warn("duplicate identifier from upstream, dropping element",
					zap.String("data_type", desc.Name),
					zap.String("id", id),
					zap.Int("index", i))
				ledger.MarkDuplicate(desc.Name, i)
				continue
			}

			ledger.MarkEmitted(desc.Name, i, id)
			records = append(records, Record{
				DataType: desc.Name,
				Index:    i,
				ID:       id,
				Fields:   cleanPayload(elem, desc),
			})
		}
	}

	return records
}

// resolveElements follows the descriptor path through the snapshot and returns
// the record elements. A missing segment means the array has not streamed in
// yet and is not an error.
func resolveElements(snapshot interface{}, desc Descriptor) ([]interface{}, bool) {
	node := snapshot
	for _, segment := range desc.Path {
		obj, ok := node.(map[string]interface{})
		if !ok {
			return nil, false
		}
		node, ok = obj[segment]
		if !ok || node == nil {
			return nil, false
		}
	}

	if desc.SingleObject {
		if obj, ok := node.(map[string]interface{}); ok {
			return []interface{}{obj}, true
		}
		return nil, false
	}

	arr, ok := node.([]interface{})
	return arr, ok
}

// isComplete reports whether every required field is present, non-null, and
// long enough where a minimum length applies.
func isComplete(elem map[string]interface{}, desc Descriptor) bool {
	for _, field := range desc.Required {
		v, ok := elem[field]
		if !ok || v == nil {
			return false
		}
		if min, constrained := desc.MinLength[field]; constrained {
			s, isString := v.(string)
			if isString && len(s) < min {
				return false
			}
		}
	}
	return true
}

// identifierOf resolves the element's identifier, supporting dotted paths into
// nested fields. When the identifier is absent the array index is used; this
// is degraded but not fatal.
func identifierOf(elem map[string]interface{}, desc Descriptor, index int) (string, bool) {
	node := interface{}(elem)
	for _, segment := range strings.Split(desc.IDField, ".") {
		obj, ok := node.(map[string]interface{})
		if !ok {
			return fmt.Sprintf("#%d", index), false
		}
		node, ok = obj[segment]
		if !ok || node == nil {
			return fmt.Sprintf("#%d", index), false
		}
	}
	return fmt.Sprintf("%v", node), true
}

// cleanPayload keeps only the retained fields, substituting an empty value for
// any retained field the element does not carry.
func cleanPayload(elem map[string]interface{}, desc Descriptor) map[string]interface{} {
	out := make(map[string]interface{}, len(desc.Retain))
	for _, field := range desc.Retain {
		if v, ok := elem[field]; ok && v != nil {
			out[field] = v
			continue
		}
		out[field] = ""
	}
	return out
}
