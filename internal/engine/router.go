package engine

import "hash/fnv"

// Router assigns every account to exactly one lane. The assignment is a
// stable hash, so all transactions for an account resolve to the same lane
// for the lifetime of the engine and are executed by a single consumer.
type Router struct {
	lanes uint32
}

func NewRouter(lanes int) Router {
	if lanes < 1 {
		lanes = 1
	}
	return Router{lanes: uint32(lanes)}
}

func (r Router) Route(accountID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(accountID))
	return int(h.Sum32() % r.lanes)
}

func (r Router) Lanes() int {
	return int(r.lanes)
}
