package game

import (
	"github.com/andersfylling/rayman-slides/internal/step"
)

// DefaultSpawnX and DefaultSpawnY place newly joined players.
const (
	DefaultSpawnX = 5
	DefaultSpawnY = 10
)

// ApplyAuthoritativeStep advances the world by one tick of combined input:
// joined participants are spawned, Custom steps set the player's intent,
// every other step kind simulates as "no input this tick".
func (w *World) ApplyAuthoritativeStep(s step.AuthoritativeStep[Intent]) {
	for p, st := range s {
		id := int(p)
		switch st.Kind {
		case step.KindJoined:
			if !w.HasPlayer(id) {
				w.SpawnPlayer(id, "player", DefaultSpawnX, DefaultSpawnY)
			}
			w.SetPlayerIntent(id, IntentNone)
		case step.KindCustom:
			w.SetPlayerIntent(id, st.Custom)
		default:
			w.SetPlayerIntent(id, IntentNone)
		}
	}
	w.Update()
}
