package reconcile

import "github.com/blukai/duelparty/internal/protocol"

// animation describes the frame timeline of a one-shot action at the
// engine's fixed frame rate. Frame numbers come from the sword model's
// animation clips; the windows are gameplay-relevant (when the sword can
// hurt, when it blocks), everything else is cosmetic and left to the
// renderer.
type animation struct {
	totalFrames int

	// lethal window: sword deals damage between these frames
	lethalFrom, lethalTo int
	// blocking window: incoming attacks are deflected between these frames
	blockFrom, blockTo int
	// dash window: the attacker lunges forward between these frames
	dashFrom, dashTo int
}

var animations = map[protocol.PlayerAction]animation{
	protocol.ActionAttack1: {
		totalFrames: 40,
		lethalFrom:  25,
		lethalTo:    32,
		dashFrom:    25,
		dashTo:      32,
	},
	protocol.ActionSweep1: {totalFrames: 35, lethalFrom: 14, lethalTo: 28},
	protocol.ActionSweep2: {totalFrames: 35, lethalFrom: 14, lethalTo: 28},
	protocol.ActionSweep3: {totalFrames: 35, lethalFrom: 14, lethalTo: 28},
	protocol.ActionBlock: {
		totalFrames: 24,
		blockFrom:   5,
		blockTo:     15,
	},
	protocol.ActionJump:       {totalFrames: 20},
	protocol.ActionGotBlocked: {totalFrames: 36},
}
