package game

import "fmt"

// DecodedEntity is one entity parsed back out of an EncodeFull blob.
type DecodedEntity struct {
	EntityID  int32
	X, Y      float64
	VelX      float64
	VelY      float64
	OnGround  bool
	HasPlayer bool
	PlayerID  int32
}

// DecodedState is the parsed form of an EncodeFull blob.
type DecodedState struct {
	Tick     uint64
	Entities []DecodedEntity
}

// DecodeFull parses a blob produced by WorldState.EncodeFull.
func DecodeFull(blob []byte) (DecodedState, error) {
	var out DecodedState
	pos := 0

	tick, pos, err := readInt64(blob, pos)
	if err != nil {
		return out, err
	}
	out.Tick = uint64(tick)

	for pos < len(blob) {
		var e DecodedEntity

		id, next, err := readInt32(blob, pos)
		if err != nil {
			return out, err
		}
		e.EntityID = id
		pos = next

		fields := []*float64{&e.X, &e.Y, &e.VelX, &e.VelY}
		for _, f := range fields {
			v, next, err := readInt64(blob, pos)
			if err != nil {
				return out, err
			}
			*f = float64(v) / 1000
			pos = next
		}

		if pos+2 > len(blob) {
			return out, fmt.Errorf("game: truncated entity flags at offset %d", pos)
		}
		e.OnGround = blob[pos] == 1
		e.HasPlayer = blob[pos+1] == 1
		pos += 2

		if e.HasPlayer {
			pid, next, err := readInt32(blob, pos)
			if err != nil {
				return out, err
			}
			e.PlayerID = pid
			pos = next
		}

		out.Entities = append(out.Entities, e)
	}
	return out, nil
}

// LoadFull rebuilds the world's entity population from a downloaded
// snapshot blob: players and enemies are spawned fresh, then positioned and
// given the blob's velocities and grounded flags. Intended for an empty,
// newly created world on a joining client.
func (w *World) LoadFull(blob []byte) error {
	decoded, err := DecodeFull(blob)
	if err != nil {
		return err
	}
	w.Tick = decoded.Tick

	for _, e := range decoded.Entities {
		if e.HasPlayer {
			entity := w.SpawnPlayer(int(e.PlayerID), "player", e.X, e.Y)
			pos, vel, _, _, _, grounded := w.mapPlayer.Get(entity)
			pos.X, pos.Y = e.X, e.Y
			vel.X, vel.Y = e.VelX, e.VelY
			grounded.OnGround = e.OnGround
			continue
		}
		entity := w.SpawnEnemy("slime", e.X, e.Y)
		pos, vel, _, grounded := w.mapPhysics.Get(entity)
		pos.X, pos.Y = e.X, e.Y
		vel.X, vel.Y = e.VelX, e.VelY
		grounded.OnGround = e.OnGround
	}
	return nil
}

func readInt64(b []byte, pos int) (int64, int, error) {
	if pos+8 > len(b) {
		return 0, pos, fmt.Errorf("game: truncated int64 at offset %d", pos)
	}
	v := int64(b[pos]) | int64(b[pos+1])<<8 | int64(b[pos+2])<<16 | int64(b[pos+3])<<24 |
		int64(b[pos+4])<<32 | int64(b[pos+5])<<40 | int64(b[pos+6])<<48 | int64(b[pos+7])<<56
	return v, pos + 8, nil
}

func readInt32(b []byte, pos int) (int32, int, error) {
	if pos+4 > len(b) {
		return 0, pos, fmt.Errorf("game: truncated int32 at offset %d", pos)
	}
	v := int32(b[pos]) | int32(b[pos+1])<<8 | int32(b[pos+2])<<16 | int32(b[pos+3])<<24
	return v, pos + 4, nil
}
