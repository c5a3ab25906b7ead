package orders

// Patch sets the status of one order, identified by id.
type Patch struct {
	OrderID   int64
	Status    string
	UpdatedAt string
}

// PatchFor returns the snapshot patch carried by a status event.
func PatchFor(ev StatusEvent) Patch {
	return Patch{OrderID: ev.OrderID, Status: ev.NewStatus, UpdatedAt: ev.UpdatedAt}
}

// Snapshot is the ordered order list held by one view. It is not safe for
// concurrent use; the owning view serializes access.
type Snapshot struct {
	orders []Order
	index  map[int64]int
}

// NewSnapshot creates a snapshot holding a copy of list.
func NewSnapshot(list []Order) *Snapshot {
	s := &Snapshot{}
	s.Replace(list)
	return s
}

// Replace swaps in a freshly fetched list.
func (s *Snapshot) Replace(list []Order) {
	s.orders = make([]Order, len(list))
	copy(s.orders, list)
	s.index = make(map[int64]int, len(list))
	for i, o := range s.orders {
		s.index[o.ID] = i
	}
}

// Apply patches the order with the given id. Orders absent from the
// snapshot are never inserted; Apply reports whether the id was found.
// Applying the same patch twice leaves the snapshot as applying it once.
func (s *Snapshot) Apply(p Patch) bool {
	i, ok := s.index[p.OrderID]
	if !ok {
		return false
	}
	s.orders[i].Status = p.Status
	if p.UpdatedAt != "" {
		s.orders[i].UpdatedAt = p.UpdatedAt
	}
	return true
}

// Get returns the order with the given id.
func (s *Snapshot) Get(id int64) (Order, bool) {
	i, ok := s.index[id]
	if !ok {
		return Order{}, false
	}
	return s.orders[i], true
}

// Orders returns a copy of the held list in display order.
func (s *Snapshot) Orders() []Order {
	out := make([]Order, len(s.orders))
	copy(out, s.orders)
	return out
}

// Len returns the number of held orders.
func (s *Snapshot) Len() int { return len(s.orders) }

// Diff compares a fresh list against the held one and synthesizes a status
// event for every order present in both with a different status. Events are
// returned in the order of the fresh list.
func (s *Snapshot) Diff(fresh []Order) []StatusEvent {
	var events []StatusEvent
	for _, o := range fresh {
		old, ok := s.Get(o.ID)
		if !ok || old.Status == o.Status {
			continue
		}
		events = append(events, StatusEvent{
			Type:           TypeStatusUpdate,
			OrderID:        o.ID,
			OrderNo:        o.OrderNo,
			UserID:         o.UserID,
			RestaurantID:   o.RestaurantID,
			RestaurantName: o.RestaurantName,
			OldStatus:      old.Status,
			NewStatus:      o.Status,
			StatusLabel:    Label(o.Status),
			PayAmount:      o.PayAmount,
			UpdatedAt:      o.UpdatedAt,
		})
	}
	return events
}
