package conversation

import "sync"

// Prune keeps every system item plus the most recent max non-system items, in
// their original order. A kept function_call_output whose function_call falls
// outside the window pulls the window back to include the call, so the result may
// hold more than max non-system items. max <= 0 disables pruning.
func Prune(items []Item, max int) []Item {
	out := make([]Item, 0, len(items))
	if max <= 0 {
		return append(out, items...)
	}

	nonSystem := make([]int, 0, len(items))
	for i, item := range items {
		if !item.IsSystem() {
			nonSystem = append(nonSystem, i)
		}
	}
	if len(nonSystem) <= max {
		return append(out, items...)
	}

	keepFrom := len(nonSystem) - max
	for {
		moved := false
		for k := keepFrom; k < len(nonSystem); k++ {
			item := items[nonSystem[k]]
			if item.Type != ItemFunctionCallOutput || item.CallID == "" {
				continue
			}
			for j := keepFrom - 1; j >= 0; j-- {
				prev := items[nonSystem[j]]
				if prev.Type == ItemFunctionCall && prev.CallID == item.CallID {
					keepFrom = j
					moved = true
					break
				}
			}
		}
		if !moved {
			break
		}
	}

	cut := nonSystem[keepFrom]
	for i, item := range items {
		if item.IsSystem() || i >= cut {
			out = append(out, item)
		}
	}
	return out
}

// Conversation is the pruned rolling history shared by the loop and the tools.
type Conversation struct {
	mu    sync.Mutex
	items []Item
	max   int
}

func NewConversation(systemPrompt string, maxItems int) *Conversation {
	c := &Conversation{max: maxItems}
	if systemPrompt != "" {
		c.items = append(c.items, SystemMessage(systemPrompt))
	}
	return c
}

// Append adds items and prunes immediately.
func (c *Conversation) Append(items ...Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = Prune(append(c.items, items...), c.max)
}

func (c *Conversation) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Item(nil), c.items...)
}

func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
