package engine

// Snapshot is the engine's serializable state: positions, per-curve
// accounting, premium-fraction histories and the live risk config.
// Restriction mode is height-scoped and deliberately not captured.
type Snapshot struct {
	Config    Config
	Paused    bool
	Positions []Position
	Premiums  map[string][]int64
	States    map[string]State
}

// ExportSnapshot copies the engine state for persistence.
func (e *Engine) ExportSnapshot() Snapshot {
	snap := Snapshot{
		Config:    e.cfg,
		Paused:    e.paused,
		Positions: e.Positions(),
		Premiums:  make(map[string][]int64, len(e.premiums)),
		States:    make(map[string]State, len(e.states)),
	}
	for curve, hist := range e.premiums {
		cp := make([]int64, len(hist))
		copy(cp, hist)
		snap.Premiums[curve] = cp
	}
	for curve, st := range e.states {
		snap.States[curve] = *st
	}
	return snap
}

// RestoreSnapshot overwrites the engine state from a snapshot.
func (e *Engine) RestoreSnapshot(snap Snapshot) {
	e.cfg = snap.Config
	e.paused = snap.Paused
	e.positions = make(map[PositionKey]*Position, len(snap.Positions))
	for _, pos := range snap.Positions {
		p := pos
		e.positions[PositionKey{Curve: p.Curve, Trader: p.Trader}] = &p
	}
	e.premiums = make(map[string][]int64, len(snap.Premiums))
	for curve, hist := range snap.Premiums {
		cp := make([]int64, len(hist))
		copy(cp, hist)
		e.premiums[curve] = cp
	}
	e.states = make(map[string]*State, len(snap.States))
	for curve, st := range snap.States {
		s := st
		e.states[curve] = &s
	}
	e.restricted = make(map[restrictionKey]bool)
	e.swap = nil
}
