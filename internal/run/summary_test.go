package run

import (
	"encoding/json"
	"fmt"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSummarizeStats(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			"reason wins over everything",
			`{"reason":"window_closed","inserted":10,"ok":true}`,
			"reason:window_closed",
		},
		{
			"error with ok false",
			`{"ok":false,"error":"api key expired"}`,
			"error:api key expired",
		},
		{
			"error without ok flag falls through",
			`{"error":"transient"}`,
			"error:transient",
		},
		{
			"retry wait with http status",
			`{"phase":"retry_wait","page":3,"total_pages":10,"sleep_sec":30,"last_status":429}`,
			"retry_wait p.3/10 sleep 30s http 429",
		},
		{
			"retry wait with last error",
			`{"phase":"retry_wait","page":2,"last_error":"timeout"}`,
			"retry_wait p.2 timeout",
		},
		{
			"chunked fetch",
			`{"warehouse_id":204,"chunk":3,"total_chunks":12,"inserted":40,"failed":2,"empty":1}`,
			"wh 204 chunk 3/12 ins:40 fail:2 empty:1",
		},
		{
			"phase with pagination",
			`{"phase":"orders","page":2,"total_pages":5,"saved":120,"distinct":80}`,
			"orders p.2/5 saved:120 distinct:80",
		},
		{
			"generic counters",
			`{"inserted":100,"updated":20,"deleted":3}`,
			"ins:100 upd:20 del:3",
		},
		{
			"bare ok",
			`{"ok":true}`,
			"ok",
		},
		{
			"ok with notable scalars uses fallback",
			`{"ok":true,"source":"wb","rows":5}`,
			"ok:true rows:5 source:wb",
		},
		{
			"fallback scalar pairs",
			`{"mode":"full","rows":42,"nested":{"a":1},"flag":true}`,
			"flag:true mode:full rows:42",
		},
		{
			"noisy keys skipped",
			`{"trace":"...","raw":"...","details":"...","count":7}`,
			"count:7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SummarizeStats(json.RawMessage(tt.payload))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSummarizeStatsEdgeCases(t *testing.T) {
	t.Run("Empty Payload", func(t *testing.T) {
		assert.Equal(t, "", SummarizeStats(nil))
		assert.Equal(t, "", SummarizeStats(json.RawMessage{}))
	})

	t.Run("Non JSON Payload Is Truncated Verbatim", func(t *testing.T) {
		got := SummarizeStats(json.RawMessage("plain text progress"))
		assert.Equal(t, "plain text progress", got)
	})

	t.Run("Objects Only Payload Serializes", func(t *testing.T) {
		got := SummarizeStats(json.RawMessage(`{"nested":{"a":1}}`))
		assert.Equal(t, `{"nested":{"a":1}}`, got)
	})
}

// Every summary must fit a list-view cell regardless of payload shape.
func TestSummarizeStatsBound(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}

	payloads := []json.RawMessage{
		json.RawMessage(fmt.Sprintf(`{"reason":%q}`, long)),
		json.RawMessage(fmt.Sprintf(`{"ok":false,"error":%q}`, long)),
		json.RawMessage(fmt.Sprintf(`{"a":%q,"b":%q,"c":%q,"d":%q}`, long, long, long, long)),
		json.RawMessage(fmt.Sprintf(`{"nested":{"deep":%q}}`, long)),
		json.RawMessage(long),
		json.RawMessage(`{"inserted":100,"updated":200,"deleted":300}`),
	}

	for i, payload := range payloads {
		got := SummarizeStats(payload)
		assert.LessOrEqual(t, len(got), MaxSummaryLen, "payload %d", i)
	}
}

func TestSummarizeStatsTruncatesOnRuneBoundary(t *testing.T) {
	reason := "окно выгрузки закрыто, повторная попытка после открытия магазина и склада"
	payload := json.RawMessage(fmt.Sprintf(`{"reason":%q}`, reason))

	got := SummarizeStats(payload)
	assert.LessOrEqual(t, len(got), MaxSummaryLen)
	assert.True(t, utf8.ValidString(got))
}
