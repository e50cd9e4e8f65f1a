package game

import "github.com/andersfylling/rayman-slides/internal/protocol"

// SimulationVersion is the version a client advertises on connect. The host
// rejects any connection whose declared version does not match byte-exactly,
// since a single diverging constant is enough to break determinism.
var SimulationVersion = protocol.AppVersion{Major: 0, Minor: 1, Patch: 0}
