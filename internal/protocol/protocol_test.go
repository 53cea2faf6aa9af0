package protocol_test

import (
	"testing"

	"github.com/blukai/duelparty/internal/protocol"
	"github.com/blukai/duelparty/internal/ptr"
	"github.com/matryer/is"
)

func TestPlayerInfoRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		info protocol.PlayerInfo
	}{
		{
			name: "empty",
			info: protocol.PlayerInfo{Health: 1, EnemyHealth: 10},
		},
		{
			name: "full",
			info: protocol.PlayerInfo{
				Position:      ptr.To(protocol.NewVector3(1.5, -2.25, 0.5)),
				Movement:      ptr.To(protocol.NewVector3(0, 3, 0)),
				Health:        7,
				EnemyHealth:   -3,
				LookRotation:  ptr.To(float32(-42.5)),
				BodyRotation:  ptr.To(float32(180)),
				Actions:       []protocol.PlayerAction{protocol.ActionAttack1, protocol.ActionJump},
				ActionOffsets: []float32{1.25, 3.5},
			},
		},
		{
			name: "position only",
			info: protocol.PlayerInfo{
				Position: ptr.To(protocol.NewVector3(0, 0, 0)),
				Health:   10,
			},
		},
		{
			name: "actions only",
			info: protocol.PlayerInfo{
				Health:        10,
				EnemyHealth:   10,
				Actions:       []protocol.PlayerAction{protocol.ActionDealDamage},
				ActionOffsets: []float32{12.75},
			},
		},
		{
			name: "rotations only",
			info: protocol.PlayerInfo{
				Health:       1,
				LookRotation: ptr.To(float32(15)),
				BodyRotation: ptr.To(float32(-90)),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			is := is.New(t)

			encoded, err := tc.info.MarshalBinary()
			is.NoErr(err)

			decoded := protocol.PlayerInfo{}
			err = decoded.UnmarshalBinary(encoded)
			is.NoErr(err)
			is.Equal(tc.info, decoded)
		})
	}
}

func TestPlayerInfoDecodeRejectsTruncated(t *testing.T) {
	is := is.New(t)

	info := protocol.PlayerInfo{
		Position:      ptr.To(protocol.NewVector3(1, 2, 3)),
		Health:        10,
		Actions:       []protocol.PlayerAction{protocol.ActionBlock},
		ActionOffsets: []float32{0.5},
	}
	encoded, err := info.MarshalBinary()
	is.NoErr(err)

	// every proper prefix must fail, and fail as a DecodeError
	for n := 0; n < len(encoded); n++ {
		decoded := protocol.PlayerInfo{}
		err := decoded.UnmarshalBinary(encoded[:n])
		if err == nil {
			t.Fatalf("decode of %d/%d bytes unexpectedly succeeded", n, len(encoded))
		}
		decodeErr, ok := err.(*protocol.DecodeError)
		is.True(ok)
		is.True(decodeErr.Reason != "")
	}
}

func TestPlayerInfoDecodeRejectsCountMismatch(t *testing.T) {
	is := is.New(t)

	info := protocol.PlayerInfo{
		Health:        5,
		Actions:       []protocol.PlayerAction{protocol.ActionJump, protocol.ActionAttack1},
		ActionOffsets: []float32{1, 2},
	}
	encoded, err := info.MarshalBinary()
	is.NoErr(err)

	// the offset count lives right after the two action ordinals; flip it
	// to 1 and drop one trailing offset so lengths still line up
	offsetCountPos := len(encoded) - 4 - 2*4
	encoded[offsetCountPos] = 1
	mangled := encoded[:len(encoded)-4]

	decoded := protocol.PlayerInfo{}
	err = decoded.UnmarshalBinary(mangled)
	_, ok := err.(*protocol.DecodeError)
	is.True(ok)
}

func TestPlayerInfoDecodeRejectsUnknownAction(t *testing.T) {
	is := is.New(t)

	info := protocol.PlayerInfo{
		Health:        5,
		Actions:       []protocol.PlayerAction{protocol.ActionJump},
		ActionOffsets: []float32{1},
	}
	encoded, err := info.MarshalBinary()
	is.NoErr(err)

	// single action ordinal sits between the two count fields
	encoded[len(encoded)-4-4-1] = 0xff

	decoded := protocol.PlayerInfo{}
	err = decoded.UnmarshalBinary(encoded)
	_, ok := err.(*protocol.DecodeError)
	is.True(ok)
}

func TestPlayerInfoDecodeRejectsTrailingBytes(t *testing.T) {
	is := is.New(t)

	info := protocol.PlayerInfo{Health: 1}
	encoded, err := info.MarshalBinary()
	is.NoErr(err)

	decoded := protocol.PlayerInfo{}
	err = decoded.UnmarshalBinary(append(encoded, 0xde, 0xad))
	_, ok := err.(*protocol.DecodeError)
	is.True(ok)
}

func TestPlayerInfoSum64(t *testing.T) {
	is := is.New(t)

	a := protocol.PlayerInfo{
		Position: ptr.To(protocol.NewVector3(1, 2, 3)),
		Health:   10,
	}
	b := protocol.PlayerInfo{
		Position: ptr.To(protocol.NewVector3(1, 2, 3)),
		Health:   10,
	}
	is.Equal(a.Sum64(), b.Sum64())

	b.Health = 9
	is.True(a.Sum64() != b.Sum64())
}

func TestVector3Magnitude(t *testing.T) {
	is := is.New(t)

	v := protocol.NewVector3(3, 4, 0)
	is.Equal(v.Length, float32(5))
	// the cache is peer controlled; Magnitude must not trust it
	v.Length = 1000
	is.Equal(v.Magnitude(), float32(5))
}
