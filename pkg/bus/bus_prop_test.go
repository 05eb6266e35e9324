package bus

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/cuemby/brainbox/pkg/storage"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBus_OrderingProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("pushes get ids 1..n in order and updates return the suffix", prop.ForAll(
		func(payloads []string, cut int) bool {
			b := New(storage.NewMemoryStore())
			for i, p := range payloads {
				raw, _ := json.Marshal(p)
				id, err := b.Push("s", "command", raw)
				if err != nil || id != int64(i+1) {
					return false
				}
			}

			lastID := int64(cut % (len(payloads) + 1))
			msgs, err := b.Updates("s", lastID)
			if err != nil || len(msgs) != len(payloads)-int(lastID) {
				return false
			}
			for i, m := range msgs {
				var got string
				if m.ID != lastID+int64(i)+1 || json.Unmarshal(m.Payload, &got) != nil || got != payloads[m.ID-1] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 1000),
	))

	properties.Property("interleaved sessions keep their own sequences", prop.ForAll(
		func(sessions []int) bool {
			b := New(storage.NewMemoryStore())
			expected := make(map[string]int64)
			for _, s := range sessions {
				name := fmt.Sprintf("s%d", s)
				expected[name]++
				id, err := b.Push(name, "command", nil)
				if err != nil || id != expected[name] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
