package inference

import "sync"

// Gate is the coordinator's single in-flight slot. A claim is taken before
// the pending-task fetch and released after the result is submitted, so no
// second fetch happens while a task is executing. Once a task arrives its id
// is attached to the claim for status display.
type Gate struct {
	mu      sync.Mutex
	claimed bool
	taskID  string
}

// Claim takes the slot. It returns false if the slot is already held.
func (g *Gate) Claim() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.claimed {
		return false
	}
	g.claimed = true
	return true
}

// Assign records the task being processed under the current claim. It is a
// no-op when the slot is free.
func (g *Gate) Assign(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.claimed {
		g.taskID = taskID
	}
}

// Release frees the slot and forgets the task id.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.claimed = false
	g.taskID = ""
}

// Busy reports whether the slot is held.
func (g *Gate) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.claimed
}

// Task returns the id of the task in flight, or "" between tasks.
func (g *Gate) Task() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.taskID
}
