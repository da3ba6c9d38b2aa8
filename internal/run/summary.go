package run

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// MaxSummaryLen bounds the string SummarizeStats produces for list views.
const MaxSummaryLen = 80

// Keys that never add signal to a one-line summary.
var noisyKeys = map[string]bool{
	"raw":      true,
	"trace":    true,
	"details":  true,
	"stack":    true,
	"body":     true,
	"request":  true,
	"response": true,
	"headers":  true,
}

// SummarizeStats condenses a run's progress payload into a short display
// string. Payload shapes differ per ingestion job and evolve
// independently, so this is an ordered chain of shape detectors with a
// generic fallback rather than a fixed schema: first match wins, and an
// unrecognized shape degrades to a key:value dump instead of failing.
func SummarizeStats(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return truncate(strings.TrimSpace(string(raw)))
	}

	detectors := []func(map[string]interface{}) (string, bool){
		detectReason,
		detectError,
		detectRetryWait,
		detectChunkedFetch,
		detectPhaseProgress,
		detectCounters,
		detectBareOK,
	}
	for _, detect := range detectors {
		if s, ok := detect(payload); ok {
			return truncate(s)
		}
	}

	return truncate(fallbackPairs(payload, raw))
}

func detectReason(p map[string]interface{}) (string, bool) {
	reason, ok := stringField(p, "reason")
	if !ok {
		return "", false
	}
	return "reason:" + reason, true
}

func detectError(p map[string]interface{}) (string, bool) {
	errText, ok := stringField(p, "error")
	if !ok {
		return "", false
	}
	okFlag, present := boolField(p, "ok")
	if !present || okFlag {
		return "", false
	}
	return "error:" + errText, true
}

func detectRetryWait(p map[string]interface{}) (string, bool) {
	phase, _ := stringField(p, "phase")
	if phase != "retry_wait" {
		return "", false
	}

	tokens := []string{"retry_wait"}
	if page, ok := intField(p, "page"); ok {
		if total, ok := intField(p, "total_pages"); ok {
			tokens = append(tokens, fmt.Sprintf("p.%d/%d", page, total))
		} else {
			tokens = append(tokens, fmt.Sprintf("p.%d", page))
		}
	}
	if sleep, ok := intField(p, "sleep_sec"); ok {
		tokens = append(tokens, fmt.Sprintf("sleep %ds", sleep))
	}
	if status, ok := intField(p, "last_status"); ok {
		tokens = append(tokens, fmt.Sprintf("http %d", status))
	} else if lastErr, ok := stringField(p, "last_error"); ok {
		tokens = append(tokens, lastErr)
	}
	return strings.Join(tokens, " "), true
}

func detectChunkedFetch(p map[string]interface{}) (string, bool) {
	warehouse, hasWarehouse := intField(p, "warehouse_id")
	chunk, hasChunk := intField(p, "chunk")
	if !hasWarehouse || !hasChunk {
		return "", false
	}

	tokens := []string{fmt.Sprintf("wh %d", warehouse)}
	if total, ok := intField(p, "total_chunks"); ok {
		tokens = append(tokens, fmt.Sprintf("chunk %d/%d", chunk, total))
	} else {
		tokens = append(tokens, fmt.Sprintf("chunk %d", chunk))
	}
	for _, c := range []struct{ key, label string }{
		{"inserted", "ins"},
		{"failed", "fail"},
		{"empty", "empty"},
	} {
		if n, ok := intField(p, c.key); ok {
			tokens = append(tokens, fmt.Sprintf("%s:%d", c.label, n))
		}
	}
	return strings.Join(tokens, " "), true
}

func detectPhaseProgress(p map[string]interface{}) (string, bool) {
	phase, hasPhase := stringField(p, "phase")
	page, hasPage := intField(p, "page")
	if !hasPhase || !hasPage {
		return "", false
	}

	tokens := []string{phase}
	if total, ok := intField(p, "total_pages"); ok {
		tokens = append(tokens, fmt.Sprintf("p.%d/%d", page, total))
	} else {
		tokens = append(tokens, fmt.Sprintf("p.%d", page))
	}
	if saved, ok := intField(p, "saved"); ok {
		tokens = append(tokens, fmt.Sprintf("saved:%d", saved))
	}
	if distinct, ok := intField(p, "distinct"); ok {
		tokens = append(tokens, fmt.Sprintf("distinct:%d", distinct))
	}
	if last, ok := stringField(p, "last_request"); ok {
		tokens = append(tokens, last)
	}
	return strings.Join(tokens, " "), true
}

func detectCounters(p map[string]interface{}) (string, bool) {
	var tokens []string
	for _, c := range []struct{ key, label string }{
		{"inserted", "ins"},
		{"updated", "upd"},
		{"deleted", "del"},
	} {
		if n, ok := intField(p, c.key); ok {
			tokens = append(tokens, fmt.Sprintf("%s:%d", c.label, n))
		}
	}
	if len(tokens) == 0 {
		return "", false
	}
	return strings.Join(tokens, " "), true
}

func detectBareOK(p map[string]interface{}) (string, bool) {
	okFlag, present := boolField(p, "ok")
	if !present || !okFlag {
		return "", false
	}
	for key, value := range p {
		if key == "ok" || noisyKeys[key] {
			continue
		}
		if _, isScalar := scalarText(value); isScalar {
			return "", false
		}
	}
	return "ok", true
}

// fallbackPairs renders up to four scalar key:value pairs in key order,
// or a truncated serialization of the whole payload when nothing
// qualifies.
func fallbackPairs(p map[string]interface{}, raw json.RawMessage) string {
	keys := make([]string, 0, len(p))
	for key := range p {
		if noisyKeys[key] {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var tokens []string
	for _, key := range keys {
		text, ok := scalarText(p[key])
		if !ok {
			continue
		}
		tokens = append(tokens, key+":"+text)
		if len(tokens) == 4 {
			break
		}
	}
	if len(tokens) > 0 {
		return strings.Join(tokens, " ")
	}

	compact, err := json.Marshal(p)
	if err != nil {
		return string(raw)
	}
	return string(compact)
}

func scalarText(v interface{}) (string, bool) {
	switch value := v.(type) {
	case string:
		return value, true
	case float64:
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d", int64(value)), true
		}
		return fmt.Sprintf("%g", value), true
	case bool:
		return fmt.Sprintf("%t", value), true
	case nil:
		return "null", true
	}
	return "", false
}

func stringField(p map[string]interface{}, key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func boolField(p map[string]interface{}, key string) (value, present bool) {
	v, ok := p[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	if !ok {
		return false, false
	}
	return b, true
}

func intField(p map[string]interface{}, key string) (int64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// truncate cuts on a rune boundary so multi-byte payload text (Cyrillic
// reason strings, for one) is never split mid-sequence.
func truncate(s string) string {
	if len(s) <= MaxSummaryLen {
		return s
	}
	cut := MaxSummaryLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
