package machine

import "github.com/aretw0/switchboard/pkg/domain"

// followUps is the per-instance FIFO of deferred transitions.
type followUps struct {
	items []domain.FollowUp
}

func (q *followUps) push(f domain.FollowUp) {
	q.items = append(q.items, f)
}

func (q *followUps) pop() (domain.FollowUp, bool) {
	if len(q.items) == 0 {
		return domain.FollowUp{}, false
	}
	f := q.items[0]
	q.items[0] = domain.FollowUp{}
	q.items = q.items[1:]
	return f, true
}

func (q *followUps) len() int {
	return len(q.items)
}

func (q *followUps) reset() {
	q.items = nil
}
