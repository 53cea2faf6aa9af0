package reconcile

import (
	"io"
	"math"

	"github.com/blukai/duelparty/internal/debug"
	"github.com/blukai/duelparty/internal/protocol"
	"github.com/phuslu/log"
)

type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vec3) Scale(f float64) Vec3 {
	return Vec3{v.X * f, v.Y * f, v.Z * f}
}

// LengthXY is the horizontal magnitude; the vertical axis is locally
// authoritative (gravity) and stays out of correction decisions.
func (v Vec3) LengthXY() float64 {
	return math.Hypot(v.X, v.Y)
}

// Config carries the engine's tunables; constructed once at startup and
// passed down, never read from ambient state.
type Config struct {
	// Threshold is the soft-correction distance T: deltas above T nudge,
	// deltas above 2T teleport.
	Threshold float64
	// FrameRate is the fixed animation frame rate used to convert latency
	// seconds into a starting frame.
	FrameRate float64
	// SoftBlend is the fraction of the remaining nudge applied per tick.
	SoftBlend float64

	BaseHealth   int32
	Gravity      float64
	JumpVelocity float64
	// GroundZ is the rest height of an entity standing on the floor.
	GroundZ float64
}

func (c Config) withDefaults() Config {
	if c.Threshold == 0 {
		c.Threshold = 1
	}
	if c.FrameRate == 0 {
		c.FrameRate = 24
	}
	if c.SoftBlend == 0 {
		c.SoftBlend = 0.25
	}
	if c.BaseHealth == 0 {
		c.BaseHealth = 10
	}
	if c.Gravity == 0 {
		c.Gravity = 19.62
	}
	if c.JumpVelocity == 0 {
		c.JumpVelocity = 10
	}
	if c.GroundZ == 0 {
		c.GroundZ = 0.5
	}
	return c
}

// Hooks let the renderer react to reconciliation outcomes. All optional.
type Hooks struct {
	// PlayAnimation starts an action's clip already advanced to fromFrame,
	// compensating for one-way latency.
	PlayAnimation func(action protocol.PlayerAction, fromFrame int)
	SwordLethal   func(lethal bool)
	SwordBlocking func(blocking bool)
	// Damage fires on health desync with the applied difference, so hit
	// reactions trigger even when the absolute value jumped.
	Damage     func(delta int32, remaining int32)
	Teleported func(to Vec3)
}

// Engine keeps a remote-controlled entity visually consistent despite
// one-way latency: it applies hard/soft position corrections, replays
// time-offset actions against frame-based timers, and converges health
// without ever reversing an action that already started playing.
type Engine struct {
	cfg    Config
	clock  func() float64
	hooks  Hooks
	logger *log.Logger

	sched   *Scheduler
	elapsed float64

	pos              Vec3
	verticalVelocity float64
	movement         Vec3
	look             float32
	body             float32
	health           int32

	netPos *Vec3
	nudge  Vec3

	attacking bool
	blocking  bool
	lethal    bool
	stunned   bool
}

// NewEngine builds an engine. clock is the local match clock in seconds;
// nil logger means silenced (which might be true in tests).
func NewEngine(cfg Config, clock func() float64, hooks Hooks, logger *log.Logger) *Engine {
	debug.Assert(clock != nil)
	if logger == nil {
		tmp := log.DefaultLogger
		tmp.Writer = &log.IOWriter{Writer: io.Discard}
		logger = &tmp
	}

	cfg = cfg.withDefaults()
	return &Engine{
		cfg:    cfg,
		clock:  clock,
		hooks:  hooks,
		logger: logger,
		sched:  NewScheduler(),
		pos:    Vec3{Z: cfg.GroundZ},
		health: cfg.BaseHealth,
	}
}

func (e *Engine) Position() Vec3        { return e.pos }
func (e *Engine) Health() int32         { return e.health }
func (e *Engine) Movement() Vec3        { return e.movement }
func (e *Engine) LookRotation() float32 { return e.look }
func (e *Engine) BodyRotation() float32 { return e.body }
func (e *Engine) Attacking() bool       { return e.attacking }
func (e *Engine) Blocking() bool        { return e.blocking }
func (e *Engine) SwordIsLethal() bool   { return e.lethal }
func (e *Engine) Stunned() bool         { return e.stunned }

// Apply ingests one decoded remote message: continuous fields update the
// tracked state (corrections happen on the next Tick), actions replay
// fast-forwarded by the measured latency.
func (e *Engine) Apply(info protocol.PlayerInfo) {
	if info.Position != nil {
		e.netPos = &Vec3{
			X: float64(info.Position.X),
			Y: float64(info.Position.Y),
			Z: float64(info.Position.Z),
		}
	}
	if info.Movement != nil {
		// the wire Length cache is peer controlled and deliberately not
		// used; components carry everything we need
		e.movement = Vec3{X: float64(info.Movement.X), Y: float64(info.Movement.Y)}
	}
	if info.LookRotation != nil {
		e.look = *info.LookRotation
	}
	if info.BodyRotation != nil {
		e.body = *info.BodyRotation
	}

	if info.Health != e.health {
		// converge via the difference instead of trusting the absolute
		// value blindly, so damage reactions still fire
		delta := e.health - info.Health
		e.logger.Warn().Msgf("health desync, updating with network value (local: %d, remote: %d)",
			e.health, info.Health)
		e.applyDamage(delta)
	}

	debug.Assert(len(info.Actions) == len(info.ActionOffsets))
	for i, action := range info.Actions {
		e.replayAction(action, info.ActionOffsets[i])
	}
}

func (e *Engine) applyDamage(delta int32) {
	e.health -= delta
	if e.hooks.Damage != nil {
		e.hooks.Damage(delta, e.health)
	}
}

// replayAction starts an action's timeline already advanced by the one-way
// latency. Actions too stale to matter are dropped entirely rather than
// played from an invalid frame.
func (e *Engine) replayAction(action protocol.PlayerAction, offset float32) {
	latency := e.clock() - float64(offset)
	if latency < 0 {
		// peer clock slightly ahead of ours; play from the top
		latency = 0
	}
	startFrame := int(latency * e.cfg.FrameRate)

	if action == protocol.ActionDealDamage {
		// damage accounting rides on the health fields; nothing to animate
		return
	}

	anim, ok := animations[action]
	debug.Assert(ok)
	if startFrame > anim.totalFrames {
		e.logger.Warn().Msgf("skipped %s animation because latency exceeded frame count (%d > %d)",
			action, startFrame, anim.totalFrames)
		return
	}

	switch action {
	case protocol.ActionAttack1, protocol.ActionSweep1, protocol.ActionSweep2, protocol.ActionSweep3:
		if e.stunned {
			return
		}
		e.attacking = true
		e.scheduleOrRun(startFrame, anim.lethalFrom, "swordLethal", func() { e.setLethal(true) })
		e.scheduleOrRun(startFrame, anim.lethalTo, "swordHarmless", func() { e.setLethal(false) })
		e.scheduleOrRun(startFrame, anim.totalFrames, "endAttack", func() { e.attacking = false })

	case protocol.ActionBlock:
		if e.stunned {
			return
		}
		// raising the guard interrupts any attack still in flight
		e.cancelAttackTimeline()
		e.attacking = false
		e.setLethal(false)
		e.scheduleOrRun(startFrame, anim.blockFrom, "swordBlocking", func() { e.setBlocking(true) })
		e.scheduleOrRun(startFrame, anim.blockTo, "swordUnblocking", func() { e.setBlocking(false) })
		e.scheduleOrRun(startFrame, anim.totalFrames, "endBlock", func() {
			e.blocking = false
			if e.hooks.SwordBlocking != nil {
				e.hooks.SwordBlocking(false)
			}
		})

	case protocol.ActionJump:
		if e.verticalVelocity == 0 {
			e.verticalVelocity = e.cfg.JumpVelocity
		}

	case protocol.ActionGotBlocked:
		// the peer's attack ran into a guard: whatever swing is playing
		// stops and the stun timeline takes over
		e.cancelAttackTimeline()
		e.sched.Cancel("swordBlocking")
		e.sched.Cancel("swordUnblocking")
		e.sched.Cancel("endBlock")
		e.attacking = false
		e.blocking = false
		e.setLethal(false)
		e.stunned = true
		e.scheduleOrRun(startFrame, anim.totalFrames, "cleanseBlockStun", func() { e.stunned = false })
	}

	if e.hooks.PlayAnimation != nil {
		e.hooks.PlayAnimation(action, startFrame)
	}
}

func (e *Engine) cancelAttackTimeline() {
	e.sched.Cancel("swordLethal")
	e.sched.Cancel("swordHarmless")
	e.sched.Cancel("endAttack")
}

// scheduleOrRun fires fn immediately when the replay offset already passed
// the wanted frame, otherwise schedules it at the frame's tick time.
func (e *Engine) scheduleOrRun(startFrame, wantedFrame int, name string, fn func()) {
	if startFrame >= wantedFrame {
		fn()
		return
	}
	at := e.elapsed + float64(wantedFrame-startFrame)/e.cfg.FrameRate
	e.sched.Schedule(name, at, fn)
}

func (e *Engine) setLethal(lethal bool) {
	e.lethal = lethal
	if e.hooks.SwordLethal != nil {
		e.hooks.SwordLethal(lethal)
	}
}

func (e *Engine) setBlocking(blocking bool) {
	e.blocking = blocking
	if e.hooks.SwordBlocking != nil {
		e.hooks.SwordBlocking(blocking)
	}
}

// Tick advances the engine by dt seconds of local simulation: frame timers
// fire, movement integrates, and the position correction policy runs
// against the latest network position.
func (e *Engine) Tick(dt float64) {
	e.elapsed += dt
	e.sched.Advance(e.elapsed)

	// vertical axis is locally authoritative via gravity
	if e.verticalVelocity != 0 {
		e.verticalVelocity -= e.cfg.Gravity * dt
		e.pos.Z += e.verticalVelocity * dt
		if e.pos.Z <= e.cfg.GroundZ && e.verticalVelocity < 0 {
			e.pos.Z = e.cfg.GroundZ
			e.verticalVelocity = 0
		}
	}

	e.pos.X += e.movement.X * dt
	e.pos.Y += e.movement.Y * dt

	if e.netPos != nil {
		delta := Vec3{X: e.netPos.X - e.pos.X, Y: e.netPos.Y - e.pos.Y}
		dist := delta.LengthXY()
		switch {
		case dist > 2*e.cfg.Threshold:
			// too far gone to smooth over
			e.pos.X, e.pos.Y = e.netPos.X, e.netPos.Y
			e.nudge = Vec3{}
			e.logger.Debug().Msgf("hard corrected position by %.2f units", dist)
			if e.hooks.Teleported != nil {
				e.hooks.Teleported(e.pos)
			}
		case dist > e.cfg.Threshold:
			e.nudge = delta
		default:
			e.nudge = Vec3{}
		}
		e.netPos = nil
	}

	if e.nudge != (Vec3{}) {
		step := e.nudge.Scale(e.cfg.SoftBlend)
		e.pos.X += step.X
		e.pos.Y += step.Y
		e.nudge = e.nudge.Sub(step)
		if e.nudge.LengthXY() < 1e-3 {
			e.nudge = Vec3{}
		}
	}
}
