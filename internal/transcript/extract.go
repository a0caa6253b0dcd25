package transcript

import (
	"encoding/json"
	"unicode/utf8"
)

// Fields holding transcript text directly, then envelopes walked recursively.
// The order is fixed so ties resolve deterministically.
var (
	textFields     = []string{"transcript", "text", "value"}
	envelopeFields = []string{"partial", "delta", "content", "item", "items"}
)

// Extract walks one streaming event depth-first and returns the longest distinct
// string found under the known transcript fields. Ties go to the string seen last.
// Unrecognized shapes yield "".
func Extract(event any) string {
	var c collector
	c.walk(event, 0)
	return c.best
}

const maxExtractDepth = 32

type collector struct {
	seen    map[string]struct{}
	best    string
	bestLen int
}

func (c *collector) walk(v any, depth int) {
	if depth > maxExtractDepth {
		return
	}
	switch t := v.(type) {
	case string:
		c.add(t)
	case []any:
		for _, item := range t {
			c.walk(item, depth+1)
		}
	case map[string]any:
		for _, key := range textFields {
			if child, ok := t[key]; ok {
				c.walk(child, depth+1)
			}
		}
		for _, key := range envelopeFields {
			if child, ok := t[key]; ok {
				c.walk(child, depth+1)
			}
		}
	case json.RawMessage:
		c.walkJSON(t, depth)
	case []byte:
		c.walkJSON(t, depth)
	}
}

func (c *collector) walkJSON(raw []byte, depth int) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return
	}
	c.walk(decoded, depth+1)
}

func (c *collector) add(s string) {
	if s == "" {
		return
	}
	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}
	if _, dup := c.seen[s]; dup {
		return
	}
	c.seen[s] = struct{}{}
	if n := utf8.RuneCountInString(s); n >= c.bestLen {
		c.best = s
		c.bestLen = n
	}
}
