package protocol

import (
	"bytes"
	"encoding"
	"fmt"
	"math"

	"github.com/blukai/duelparty/internal/byteorder"
	"github.com/blukai/duelparty/internal/debug"
	"github.com/cespare/xxhash/v2"
)

const (
	// InfoMaxSize bounds a single encoded PlayerInfo. The fixed part is 27
	// bytes and action lists stay in the single digits during normal play,
	// so 4k leaves plenty of headroom without letting a hostile peer make
	// us allocate much.
	InfoMaxSize = 4 << 10
)

// DecodeError reports a malformed or truncated wire payload. The policy for
// it is always the same: drop the message, keep the connection.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "malformed player info: " + e.Reason
}

func malformedf(format string, args ...any) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// Vector3 is a position or movement vector. Length caches the magnitude so
// the receiving game does not have to recompute it every frame; it travels
// over the wire and is therefore peer-controlled. Consumers that act on the
// magnitude recompute it via Magnitude instead of trusting the cache.
type Vector3 struct {
	X      float32
	Y      float32
	Z      float32
	Length float32
}

// NewVector3 builds a vector with the Length cache filled in.
func NewVector3(x, y, z float32) Vector3 {
	v := Vector3{X: x, Y: y, Z: z}
	v.Length = v.Magnitude()
	return v
}

// Magnitude recomputes the length from the components.
func (v Vector3) Magnitude() float32 {
	return float32(math.Sqrt(float64(v.X)*float64(v.X) +
		float64(v.Y)*float64(v.Y) +
		float64(v.Z)*float64(v.Z)))
}

// PlayerAction is a one-shot combat action. Ordinals are wire-stable, do
// not renumber.
type PlayerAction uint8

const (
	ActionJump PlayerAction = iota
	ActionAttack1
	ActionBlock
	ActionSweep1
	ActionSweep2
	ActionSweep3
	ActionDealDamage
	ActionGotBlocked

	actionMax
)

func (a PlayerAction) Valid() bool {
	return a < actionMax
}

func (a PlayerAction) String() string {
	switch a {
	case ActionJump:
		return "jump"
	case ActionAttack1:
		return "attack1"
	case ActionBlock:
		return "block"
	case ActionSweep1:
		return "sweep1"
	case ActionSweep2:
		return "sweep2"
	case ActionSweep3:
		return "sweep3"
	case ActionDealDamage:
		return "deal_damage"
	case ActionGotBlocked:
		return "got_blocked"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(a))
	}
}

// PlayerInfo is the unit of state exchange between peers. Optional fields
// are pointers; a message may carry any subset (sparse updates). Actions
// pair 1:1 with ActionOffsets, the sender's match-clock seconds at the
// moment each action was issued.
type PlayerInfo struct {
	Position     *Vector3
	Movement     *Vector3
	Health       int32
	EnemyHealth  int32
	LookRotation *float32
	BodyRotation *float32

	Actions       []PlayerAction
	ActionOffsets []float32
}

var (
	_ encoding.BinaryMarshaler   = (*PlayerInfo)(nil)
	_ encoding.BinaryUnmarshaler = (*PlayerInfo)(nil)
)

// HasActions reports whether the message carries any one-shot actions.
// Such messages must never be collapsed away by a later continuous update.
func (pi *PlayerInfo) HasActions() bool {
	return len(pi.Actions) > 0
}

// Sum64 hashes the encoded form. Two messages with equal semantic fields
// hash equal because the encoding is canonical; used for outbound dedup.
func (pi *PlayerInfo) Sum64() uint64 {
	data, err := pi.MarshalBinary()
	debug.Assert(err == nil)
	return xxhash.Sum64(data)
}

func putFlagged(buf *bytes.Buffer, val *float32) {
	if val != nil {
		buf.WriteByte(1)
		buf.Write(byteorder.PutF32(*val))
	} else {
		buf.WriteByte(0)
	}
}

func putVector3(buf *bytes.Buffer, v *Vector3) {
	buf.Write(byteorder.PutF32(v.X))
	buf.Write(byteorder.PutF32(v.Y))
	buf.Write(byteorder.PutF32(v.Z))
	buf.Write(byteorder.PutF32(v.Length))
}

func putFlag(buf *bytes.Buffer, present bool) {
	if present {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

// MarshalBinary encodes in the fixed wire layout: position flag; health and
// enemy health; flagged look and body rotations; movement flag; position
// and movement vectors if flagged; action ordinals; action offsets.
func (pi *PlayerInfo) MarshalBinary() ([]byte, error) {
	debug.Assert(len(pi.Actions) == len(pi.ActionOffsets))

	buf := bytes.Buffer{}

	putFlag(&buf, pi.Position != nil)
	buf.Write(byteorder.PutI32(pi.Health))
	buf.Write(byteorder.PutI32(pi.EnemyHealth))
	putFlagged(&buf, pi.LookRotation)
	putFlagged(&buf, pi.BodyRotation)
	putFlag(&buf, pi.Movement != nil)

	if pi.Position != nil {
		putVector3(&buf, pi.Position)
	}
	if pi.Movement != nil {
		putVector3(&buf, pi.Movement)
	}

	buf.Write(byteorder.PutU32(uint32(len(pi.Actions))))
	for _, action := range pi.Actions {
		debug.Assert(action.Valid())
		buf.WriteByte(uint8(action))
	}
	buf.Write(byteorder.PutU32(uint32(len(pi.ActionOffsets))))
	for _, offset := range pi.ActionOffsets {
		buf.Write(byteorder.PutF32(offset))
	}

	return buf.Bytes(), nil
}

// reader is a bounds-checked cursor over an untrusted payload.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, malformedf("truncated (want %d more bytes, have %d)", n, len(r.data)-r.pos)
	}
	chunk := r.data[r.pos : r.pos+n]
	r.pos += n
	return chunk, nil
}

func (r *reader) u8() (byte, error) {
	chunk, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return chunk[0], nil
}

func (r *reader) flag() (bool, error) {
	b, err := r.u8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, malformedf("invalid presence flag %d", b)
	}
}

func (r *reader) i32() (int32, error) {
	chunk, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return byteorder.I32(chunk), nil
}

func (r *reader) u32() (uint32, error) {
	chunk, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return byteorder.U32(chunk), nil
}

func (r *reader) f32() (float32, error) {
	chunk, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return byteorder.F32(chunk), nil
}

func (r *reader) vector3() (*Vector3, error) {
	chunk, err := r.take(16)
	if err != nil {
		return nil, err
	}
	return &Vector3{
		X:      byteorder.F32(chunk[0:4]),
		Y:      byteorder.F32(chunk[4:8]),
		Z:      byteorder.F32(chunk[8:12]),
		Length: byteorder.F32(chunk[12:16]),
	}, nil
}

// UnmarshalBinary decodes an untrusted payload. Truncated buffers, invalid
// flags, unknown action ordinals, action/offset count mismatches and
// trailing garbage all come back as *DecodeError; it never panics.
func (pi *PlayerInfo) UnmarshalBinary(data []byte) error {
	if len(data) > InfoMaxSize {
		return malformedf("payload too large (%d bytes)", len(data))
	}

	r := reader{data: data}
	out := PlayerInfo{}

	hasPosition, err := r.flag()
	if err != nil {
		return err
	}
	if out.Health, err = r.i32(); err != nil {
		return err
	}
	if out.EnemyHealth, err = r.i32(); err != nil {
		return err
	}

	hasLook, err := r.flag()
	if err != nil {
		return err
	}
	if hasLook {
		look, err := r.f32()
		if err != nil {
			return err
		}
		out.LookRotation = &look
	}
	hasBody, err := r.flag()
	if err != nil {
		return err
	}
	if hasBody {
		body, err := r.f32()
		if err != nil {
			return err
		}
		out.BodyRotation = &body
	}

	hasMovement, err := r.flag()
	if err != nil {
		return err
	}
	if hasPosition {
		if out.Position, err = r.vector3(); err != nil {
			return err
		}
	}
	if hasMovement {
		if out.Movement, err = r.vector3(); err != nil {
			return err
		}
	}

	actionCount, err := r.u32()
	if err != nil {
		return err
	}
	// bound the allocation by what the buffer could actually hold
	if int(actionCount) > len(data)-r.pos {
		return malformedf("action count %d exceeds payload", actionCount)
	}
	if actionCount > 0 {
		out.Actions = make([]PlayerAction, actionCount)
		for i := range out.Actions {
			ordinal, err := r.u8()
			if err != nil {
				return err
			}
			action := PlayerAction(ordinal)
			if !action.Valid() {
				return malformedf("unknown action ordinal %d", ordinal)
			}
			out.Actions[i] = action
		}
	}

	offsetCount, err := r.u32()
	if err != nil {
		return err
	}
	if offsetCount != actionCount {
		return malformedf("action/offset count mismatch (%d != %d)", actionCount, offsetCount)
	}
	if offsetCount > 0 {
		out.ActionOffsets = make([]float32, offsetCount)
		for i := range out.ActionOffsets {
			if out.ActionOffsets[i], err = r.f32(); err != nil {
				return err
			}
		}
	}

	if r.pos != len(data) {
		return malformedf("%d trailing bytes", len(data)-r.pos)
	}

	*pi = out
	return nil
}
