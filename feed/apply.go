package feed

import "go.uber.org/zap"

// apply folds one decoded message into the local feed state. It runs on
// the channel's run goroutine only, so messages are applied in arrival
// order and events fire in the same order.
func (c *Channel) apply(msg Message) {
	c.mu.Lock()
	var ev *Event

	switch m := msg.(type) {
	case *Connected:
		c.connID = m.ID

	case *Ping:
		c.lastPing = m.Timestamp

	case *Snapshot:
		c.items = append([]Item(nil), m.Items...)
		if m.Pagination != nil {
			c.pagination = *m.Pagination
		}
		c.lastSeen = maxTimestamp(c.items)
		ev = &Event{Kind: EventLoaded, Items: append([]Item(nil), c.items...)}

	case *ItemAdded:
		item := m.Item
		c.items = append([]Item{item}, c.items...)
		if c.localUser == "" || item.Author != c.localUser {
			c.unseen++
		}
		if item.Timestamp > c.lastSeen {
			c.lastSeen = item.Timestamp
		}
		ev = &Event{Kind: EventItemAdded, Item: &item}

	case *ItemUpdated:
		idx := -1
		for i := range c.items {
			if c.items[i].ID == m.Item.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			// The item is outside our window; nothing to reconcile.
			c.mu.Unlock()
			return
		}
		c.items[idx] = m.Item
		item := m.Item
		ev = &Event{Kind: EventItemUpdated, Item: &item}

	case *FullRefresh:
		if itemsEqual(c.items, m.Items) {
			// Identical content, keep state untouched so no spurious
			// re-render reaches the application.
			c.mu.Unlock()
			return
		}
		fresh := 0
		for i := range m.Items {
			it := &m.Items[i]
			if it.Timestamp > c.lastSeen && (c.localUser == "" || it.Author != c.localUser) {
				fresh++
			}
		}
		c.items = append([]Item(nil), m.Items...)
		if m.Pagination != nil {
			c.pagination = *m.Pagination
		}
		c.unseen += fresh
		if ts := maxTimestamp(c.items); ts > c.lastSeen {
			c.lastSeen = ts
		}
		ev = &Event{Kind: EventRefreshed, Items: append([]Item(nil), c.items...)}

	default:
		c.log.Warn("unhandled feed message", zap.String("type", msg.kind()))
	}
	c.mu.Unlock()

	if ev != nil && c.cfg.OnEvent != nil {
		c.cfg.OnEvent(*ev)
	}
}
