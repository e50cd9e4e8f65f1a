package game

import (
	"github.com/andersfylling/rayman-slides/internal/collision"
	"github.com/mlange-42/ark/ecs"
)

// GravityAccel is the downward acceleration applied to ungrounded entities,
// in world units per tick squared.
const GravityAccel = 0.08

// MaxFallSpeed clamps vertical velocity so falling never overshoots the
// tile map between ticks.
const MaxFallSpeed = 0.9

// MoveSpeed is the horizontal speed a held left/right intent produces.
const MoveSpeed = 0.22

// JumpVelocity is the vertical velocity a jump intent sets when grounded.
const JumpVelocity = -1.1

// World holds the deterministic ark-ECS simulation: every player and enemy
// entity, the level geometry, and the filters the rollback core's
// rollback/snapshot machinery queries against.
type World struct {
	Tick uint64

	ecsWorld *ecs.World
	tileMap  *collision.TileMap

	mapPhysics *ecs.Map4[Position, Velocity, Collider, Grounded]
	mapPlayer  *ecs.Map6[Position, Velocity, Collider, AttackState, Player, Grounded]
	mapFist    *ecs.Map3[Position, Velocity, Fist]

	physicsFilter *ecs.Filter4[Position, Velocity, Collider, Grounded]
	playerFilter  *ecs.Filter2[Position, Player]
	attackFilter  *ecs.Filter6[Position, Velocity, Collider, AttackState, Player, Grounded]
	fistFilter    *ecs.Filter3[Position, Velocity, Fist]

	nextEnemyID int
}

// NewWorld creates an empty world with no tile map and no entities.
func NewWorld() *World {
	w := &World{ecsWorld: ecs.NewWorld()}

	w.mapPhysics = ecs.NewMap4[Position, Velocity, Collider, Grounded](w.ecsWorld)
	w.mapPlayer = ecs.NewMap6[Position, Velocity, Collider, AttackState, Player, Grounded](w.ecsWorld)
	w.mapFist = ecs.NewMap3[Position, Velocity, Fist](w.ecsWorld)

	w.physicsFilter = ecs.NewFilter4[Position, Velocity, Collider, Grounded](w.ecsWorld)
	w.playerFilter = ecs.NewFilter2[Position, Player](w.ecsWorld)
	w.attackFilter = ecs.NewFilter6[Position, Velocity, Collider, AttackState, Player, Grounded](w.ecsWorld)
	w.fistFilter = ecs.NewFilter3[Position, Velocity, Fist](w.ecsWorld)

	return w
}

// SetTileMap installs the level geometry collision is resolved against.
func (w *World) SetTileMap(tm *collision.TileMap) {
	w.tileMap = tm
}

// TileMap returns the installed level geometry, or nil.
func (w *World) TileMap() *collision.TileMap {
	return w.tileMap
}

const (
	playerColliderW = 0.8
	playerColliderH = 0.95
)

// SpawnPlayer creates a player entity at (x, y) with the given logical id
// and display name.
func (w *World) SpawnPlayer(id int, name string, x, y float64) ecs.Entity {
	return w.mapPlayer.NewEntity(
		&Position{X: x, Y: y},
		&Velocity{},
		&Collider{Width: playerColliderW, Height: playerColliderH},
		&AttackState{},
		&Player{ID: id, Name: name},
		&Grounded{},
	)
}

// SpawnEnemy creates a non-player physics entity of the given type.
func (w *World) SpawnEnemy(enemyType string, x, y float64) ecs.Entity {
	w.nextEnemyID++
	width, height := 0.8, 0.8
	if enemyType == "bat" {
		width, height = 0.6, 0.5
	}
	return w.mapPhysics.NewEntity(
		&Position{X: x, Y: y},
		&Velocity{},
		&Collider{Width: width, Height: height},
		&Grounded{},
	)
}

// SetPlayerIntent records the intent that will be consumed by the next
// Update call for the player with the given logical id. A player holding
// no input this tick should pass IntentNone explicitly.
func (w *World) SetPlayerIntent(playerID int, intent Intent) {
	query := w.playerFilter.Query()
	for query.Next() {
		_, player := query.Get()
		if player.ID == playerID {
			player.Intent = intent
			query.Close()
			return
		}
	}
}

// HasPlayer reports whether a player entity with the given logical id
// exists in the world.
func (w *World) HasPlayer(playerID int) bool {
	query := w.playerFilter.Query()
	for query.Next() {
		_, player := query.Get()
		if player.ID == playerID {
			query.Close()
			return true
		}
	}
	return false
}

// GetPlayerPosition returns the position of the first player found, and
// whether any player exists.
func (w *World) GetPlayerPosition() (x, y float64, ok bool) {
	query := w.playerFilter.Query()
	if query.Next() {
		pos, _ := query.Get()
		query.Close()
		return pos.X, pos.Y, true
	}
	return 0, 0, false
}

// Update advances the world by one deterministic tick: movement/attack
// intent resolution, physics integration against the tile map, and fist
// projectile advancement/despawn.
func (w *World) Update() {
	w.Tick++
	w.runMovementSystem()
	w.runAttackSystem()
	w.runPhysicsSystem()
	w.runFistSystem()
}

// runMovementSystem turns a player's held intent into horizontal velocity
// and jump impulses. It shares attackFilter's tuple since every player
// entity carries AttackState.
func (w *World) runMovementSystem() {
	query := w.attackFilter.Query()
	for query.Next() {
		_, vel, _, _, player, grounded := query.Get()

		vel.X = 0
		if player.Intent&IntentLeft != 0 {
			vel.X -= MoveSpeed
		}
		if player.Intent&IntentRight != 0 {
			vel.X += MoveSpeed
		}
		if player.Intent&IntentJump != 0 && grounded.OnGround {
			vel.Y = JumpVelocity
			grounded.OnGround = false
		}
	}
}

// runPhysicsSystem integrates velocity and resolves collision against the
// tile map for every physics entity (players and enemies alike).
func (w *World) runPhysicsSystem() {
	query := w.physicsFilter.Query()
	for query.Next() {
		pos, vel, col, grounded := query.Get()
		w.integrateAndCollide(pos, vel, col, grounded)
	}
}

func (w *World) integrateAndCollide(pos *Position, vel *Velocity, col *Collider, grounded *Grounded) {
	vel.Y += GravityAccel
	if vel.Y > MaxFallSpeed {
		vel.Y = MaxFallSpeed
	}

	if w.tileMap == nil {
		pos.X += vel.X
		pos.Y += vel.Y
		return
	}

	aabb := func(x, y float64) collision.AABB {
		return collision.NewAABB(x+col.OffsetX, y+col.OffsetY, col.Width, col.Height)
	}

	newX := pos.X + vel.X
	if !w.tileMap.OverlapsSolid(aabb(newX, pos.Y)) {
		pos.X = newX
	} else {
		vel.X = 0
	}

	newY := pos.Y + vel.Y
	if w.tileMap.OverlapsSolid(aabb(pos.X, newY)) {
		if vel.Y > 0 {
			grounded.OnGround = true
		}
		vel.Y = 0
	} else {
		pos.Y = newY
		grounded.OnGround = false
	}
}

// runAttackSystem implements the charge/release punch state machine
// described by attack_test.go: pressing attack starts a charge, holding
// continues it, releasing fires a fist whose distance scales with charge
// duration, after which a cooldown blocks re-charging.
// fistSpawn describes a fist entity to create once the attackFilter query
// that discovered it has finished iterating. ark forbids creating entities
// while the world is locked by an in-progress query, so spawns are
// collected during iteration and applied afterward.
type fistSpawn struct {
	x, y        float64
	facingRight bool
	maxDistance float64
}

func (w *World) runAttackSystem() {
	query := w.attackFilter.Query()
	var spawns []fistSpawn
	for query.Next() {
		pos, vel, _, attack, player, _ := query.Get()
		if spawn, ok := w.stepAttack(pos, vel, attack, player); ok {
			spawns = append(spawns, spawn)
		}
	}

	for _, s := range spawns {
		w.mapFist.NewEntity(
			&Position{X: s.x, Y: s.y},
			&Velocity{},
			&Fist{FacingRight: s.facingRight, MaxDistance: s.maxDistance, TicksLeft: AttackDuration},
		)
	}
}

func (w *World) stepAttack(pos *Position, vel *Velocity, attack *AttackState, player *Player) (fistSpawn, bool) {
	held := player.Intent&IntentAttack != 0

	if attack.Attacking {
		if attack.Cooldown > 0 {
			attack.Cooldown--
		}
		if attack.Cooldown == 0 {
			attack.Attacking = false
		}
		return fistSpawn{}, false
	}

	if held {
		attack.Charging = true
		if attack.ChargeTicks < MaxChargeTicks {
			attack.ChargeTicks++
		}
		if vel.X > 0 {
			attack.FacingRight = true
		} else if vel.X < 0 {
			attack.FacingRight = false
		}
		return fistSpawn{}, false
	}

	if attack.Charging {
		distance := fistDistance(attack.ChargeTicks)
		spawn := fistSpawn{x: pos.X, y: pos.Y, facingRight: attack.FacingRight, maxDistance: distance}
		attack.Charging = false
		attack.ChargeTicks = 0
		attack.Attacking = true
		attack.Cooldown = AttackCooldown
		return spawn, true
	}

	return fistSpawn{}, false
}

func fistDistance(chargeTicks int) float64 {
	if chargeTicks > MaxChargeTicks {
		chargeTicks = MaxChargeTicks
	}
	frac := float64(chargeTicks) / float64(MaxChargeTicks)
	return MinFistDistance + frac*(MaxFistDistance-MinFistDistance)
}

// runFistSystem advances in-flight fists, knocks back the first non-player
// entity a fist overlaps, and despawns fists that have hit something,
// traveled their full distance, or outlived AttackDuration ticks.
func (w *World) runFistSystem() {
	query := w.fistFilter.Query()
	var dead []ecs.Entity
	for query.Next() {
		pos, _, fist := query.Get()
		dir := 1.0
		if !fist.FacingRight {
			dir = -1.0
		}
		pos.X += dir * FistSpeed
		fist.Traveled += FistSpeed
		fist.TicksLeft--
		if fist.TicksLeft <= 0 || fist.Traveled >= fist.MaxDistance {
			dead = append(dead, query.Entity())
			continue
		}
		if w.fistHits(pos, dir) {
			dead = append(dead, query.Entity())
		}
	}

	for _, e := range dead {
		w.ecsWorld.RemoveEntity(e)
	}
}

const fistHitboxSize = 0.5

// fistHits knocks back the first overlapped enemy and reports a hit.
// Players are exempt so a fist cannot hit its own thrower.
func (w *World) fistHits(fistPos *Position, dir float64) bool {
	fistBox := collision.NewAABB(fistPos.X, fistPos.Y, fistHitboxSize, fistHitboxSize)

	query := w.physicsFilter.Query()
	for query.Next() {
		if w.isPlayerEntity(query.Entity()) {
			continue
		}
		pos, vel, col, _ := query.Get()
		box := collision.NewAABB(pos.X+col.OffsetX, pos.Y+col.OffsetY, col.Width, col.Height)
		if fistBox.Overlaps(box) {
			vel.X += dir * FistSpeed
			vel.Y = JumpVelocity / 4
			query.Close()
			return true
		}
	}
	return false
}

func (w *World) isPlayerEntity(entity ecs.Entity) bool {
	query := w.playerFilter.Query()
	for query.Next() {
		if query.Entity() == entity {
			query.Close()
			return true
		}
	}
	return false
}

// Renderable is one entity's render-relevant state, flattened for a
// renderer that should stay agnostic to the ECS storage underneath.
type Renderable struct {
	X, Y     float64
	SpriteID string
}

// GetRenderables returns every entity a renderer should draw this frame.
func (w *World) GetRenderables() []Renderable {
	var out []Renderable

	attackQuery := w.attackFilter.Query()
	for attackQuery.Next() {
		pos, _, _, attack, _, _ := attackQuery.Get()
		spriteID := "player"
		switch {
		case attack.Attacking && attack.Cooldown > AttackCooldown/2:
			spriteID = "player_punch"
		case attack.Charging:
			spriteID = "player_charge"
		}
		out = append(out, Renderable{X: pos.X, Y: pos.Y, SpriteID: spriteID})
	}

	physicsQuery := w.physicsFilter.Query()
	for physicsQuery.Next() {
		pos, _, _, _ := physicsQuery.Get()
		out = append(out, Renderable{X: pos.X, Y: pos.Y, SpriteID: "slime"})
	}

	fistQuery := w.fistFilter.Query()
	for fistQuery.Next() {
		pos, _, fist := fistQuery.Get()
		spriteID := "fist_left"
		if fist.FacingRight {
			spriteID = "fist_right"
		}
		out = append(out, Renderable{X: pos.X, Y: pos.Y, SpriteID: spriteID})
	}

	return out
}
