package game

import "errors"

// Intent represents a player's input for one tick as a bitmask. It is the
// T in step.Step[T]: opaque to the rollback-netcode core, meaningful only
// to this package's systems and its StepCodec.
type Intent uint8

const IntentNone Intent = 0

const (
	IntentLeft Intent = 1 << iota
	IntentRight
	IntentJump
	IntentAttack
	IntentUse
)

// StepCodec implements step.Codec[Intent]: a single byte carries the whole
// bitmask, so encoding is a direct cast.
type StepCodec struct{}

func (StepCodec) Encode(v Intent) ([]byte, error) {
	return []byte{byte(v)}, nil
}

func (StepCodec) Decode(b []byte) (Intent, error) {
	if len(b) != 1 {
		return 0, errBadIntentPayload
	}
	return Intent(b[0]), nil
}

var errBadIntentPayload = errors.New("game: intent payload must be exactly 1 byte")
