package models

// Identity is the caller identity attached to an inbound message,
// constructed once at the boundary from whatever host-specific shape exists.
// Any field may be empty.
type Identity struct {
	Session string `json:"session"`
	Group   string `json:"group,omitempty"`
	Sender  string `json:"sender,omitempty"`
}

// Keys returns the non-empty identity keys in session, group, sender order.
func (id Identity) Keys() []string {
	keys := make([]string, 0, 3)
	for _, k := range []string{id.Session, id.Group, id.Sender} {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
