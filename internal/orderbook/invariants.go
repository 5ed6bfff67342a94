package orderbook

import "fmt"

// checkNeighbours panics if side[pos] breaks the ordering with its neighbours.
func checkNeighbours(side []*Order, pos int) {
	o := side[pos]
	if pos > 0 && o.ranksAhead(side[pos-1]) {
		panic(fmt.Sprintf("orderbook: order %d at %d ranks ahead of its predecessor", o.ID, pos))
	}
	if pos+1 < len(side) && side[pos+1].ranksAhead(o) {
		panic(fmt.Sprintf("orderbook: order %d at %d ranks behind its successor", o.ID, pos))
	}
}

func (b *Book) verify() {
	if !b.paranoid {
		return
	}
	if err := b.Validate(); err != nil {
		panic("orderbook: " + err.Error())
	}
}

// Validate checks every structural invariant of the book and reports the
// first violation found.
func (b *Book) Validate() error {
	seen := make(map[int64]string)
	check := func(name string, side []*Order, want Side) error {
		for i, o := range side {
			if where, dup := seen[o.ID]; dup {
				return fmt.Errorf("order %d in both %s and %s", o.ID, where, name)
			}
			seen[o.ID] = name
			if o.Side != want {
				return fmt.Errorf("%s order %d has side %s", name, o.ID, o.Side)
			}
			if o.Kind != KindLimit {
				return fmt.Errorf("%s order %d is %s", name, o.ID, o.Kind)
			}
			if o.Quantity <= 0 {
				return fmt.Errorf("%s order %d has quantity %d", name, o.ID, o.Quantity)
			}
			if o.Status != StatusOpen {
				return fmt.Errorf("%s order %d has status %s", name, o.ID, o.Status)
			}
			if b.resident[o.ID] != o {
				return fmt.Errorf("%s order %d missing from index", name, o.ID)
			}
			if i > 0 && o.ranksAhead(side[i-1]) {
				return fmt.Errorf("%s out of order at %d", name, i)
			}
		}
		return nil
	}
	if err := check("bids", b.bids, SideBuy); err != nil {
		return err
	}
	if err := check("asks", b.asks, SideSell); err != nil {
		return err
	}
	if len(b.bids) > 0 && len(b.asks) > 0 && b.bids[0].Price >= b.asks[0].Price {
		return fmt.Errorf("book crossed: bid %d >= ask %d", b.bids[0].Price, b.asks[0].Price)
	}
	if len(seen) != len(b.resident) {
		return fmt.Errorf("index holds %d orders, sides hold %d", len(b.resident), len(seen))
	}
	for _, o := range b.disposed {
		if _, resting := seen[o.ID]; resting {
			return fmt.Errorf("disposed order %d still resting", o.ID)
		}
		if o.Status != StatusCancelled && o.Status != StatusExpired {
			return fmt.Errorf("disposed order %d has status %s", o.ID, o.Status)
		}
	}
	return nil
}
