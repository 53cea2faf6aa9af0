package protocol

import "sync"

// Pending is a per-connection inbound merge buffer. Instead of queueing
// every raw decode unboundedly, a burst of updates collapses into a single
// pending message: continuous fields (position, movement, rotations,
// health) take the newest value, while one-shot actions accumulate
// oldest-first so that no action is ever overwritten by a later
// continuous-state packet.
//
// The reader goroutine pushes and the relay loop flushes, hence the mutex.
type Pending struct {
	mu   sync.Mutex
	info *PlayerInfo
}

// Push merges next into the pending message.
func (p *Pending) Push(next PlayerInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.info == nil {
		merged := next
		// detach the caller's slices, the buffer outlives the read loop's
		// scratch space
		merged.Actions = append([]PlayerAction(nil), next.Actions...)
		merged.ActionOffsets = append([]float32(nil), next.ActionOffsets...)
		p.info = &merged
		return
	}

	merged := *p.info
	merged.Health = next.Health
	merged.EnemyHealth = next.EnemyHealth
	if next.Position != nil {
		merged.Position = next.Position
	}
	if next.Movement != nil {
		merged.Movement = next.Movement
	}
	if next.LookRotation != nil {
		merged.LookRotation = next.LookRotation
	}
	if next.BodyRotation != nil {
		merged.BodyRotation = next.BodyRotation
	}
	merged.Actions = append(merged.Actions, next.Actions...)
	merged.ActionOffsets = append(merged.ActionOffsets, next.ActionOffsets...)
	p.info = &merged
}

// Flush atomically takes and clears the pending message. Returns nil when
// nothing arrived since the last flush, which is how the relay loop avoids
// re-sending stale state.
func (p *Pending) Flush() *PlayerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := p.info
	p.info = nil
	return info
}
