package core

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"PerpEngine/internal/action"
	"PerpEngine/internal/bank"
	"PerpEngine/internal/engine"
	"PerpEngine/internal/insurance"
	"PerpEngine/internal/observability"
	"PerpEngine/internal/oracle"
	"PerpEngine/internal/vamm"
)

// supplyCheckInterval is how often (in sequences) the global zero-sum
// supply check runs.
const supplyCheckInterval = 1000

// Core is the single-threaded action processor. It owns the hash chain
// and the only write path into the engine, the ledger and the pricefeed;
// callers serialize on Apply.
type Core struct {
	sequence    int64
	journalMark int
	replaying   bool

	hasher      *StateHasher
	engine      *engine.Engine
	ledger      *bank.Ledger
	fund        *insurance.Fund
	feed        *oracle.PriceFeed
	feedOwner   string
	idempotency *IdempotencyChecker
	sequences   *SequenceValidator
	metrics     *observability.Metrics
	logger      zerolog.Logger

	persistChan    chan<- Output
	projectionChan chan<- Output
}

// Output is one processed action: its envelope, the typed payload
// (kept so the shell can re-encode it into the durable log), the ledger
// journal entries it produced, and the state digest that went into the
// hash.
// Positions carries the rows the action touched so projections can
// upsert them; a zero-size entry means the position closed. Funding is
// set only on funding settlements.
type Output struct {
	Envelope   *action.Envelope
	Action     action.Action
	Journals   []bank.Journal
	StateDelta []byte
	Positions  []engine.Position
	Funding    *FundingUpdate
}

// FundingUpdate describes one funding settlement for projections.
type FundingUpdate struct {
	Curve           string
	FundingRate     int64
	PremiumFraction int64
	BlockTime       int64
}

// Deps wires the core against the domain state it drives.
type Deps struct {
	Engine      *engine.Engine
	Ledger      *bank.Ledger
	Fund        *insurance.Fund
	Feed        *oracle.PriceFeed
	FeedOwner   string
	DBChecker   DBIdempotencyChecker
	LRUCapacity int
	Metrics     *observability.Metrics
	Logger      zerolog.Logger
}

func New(startSequence int64, persistChan, projectionChan chan<- Output, deps Deps) *Core {
	capacity := deps.LRUCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}

	return &Core{
		sequence:       startSequence,
		journalMark:    deps.Ledger.JournalLen(),
		hasher:         NewStateHasher(),
		engine:         deps.Engine,
		ledger:         deps.Ledger,
		fund:           deps.Fund,
		feed:           deps.Feed,
		feedOwner:      deps.FeedOwner,
		idempotency:    NewIdempotencyChecker(capacity, deps.DBChecker),
		sequences:      NewSequenceValidator(),
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// Apply is the main processing pipeline: dedup, sequence validation,
// dispatch, digest, hash, emit, mark processed.
func (c *Core) Apply(act action.Action) error {
	start := time.Now()
	actionType := act.ActionType().String()
	idempotencyKey := act.IdempotencyKey()

	// Replayed actions are in the durable log already; the dedup check
	// would reject every one of them.
	var isDuplicate bool
	if !c.replaying {
		var tier string
		isDuplicate, tier = c.idempotency.IsDuplicate(actionType, idempotencyKey)
		if isDuplicate && c.metrics != nil {
			c.metrics.IdempotencyDuplicates.WithLabelValues(actionType, tier).Inc()
		}
	}

	// Oracle prices run on their own partition: stale samples are skipped
	// and gaps accepted. Everything else is strictly ordered.
	if priceAct, ok := act.(*action.OraclePrice); ok {
		stale, gap := c.sequences.ValidatePriceSequence(priceAct.FeedKey, priceAct.Seq)
		if stale {
			c.reject(actionType, "stale")
			return nil
		}
		if gap && c.metrics != nil {
			c.metrics.SequenceGaps.WithLabelValues("price:" + priceAct.FeedKey).Inc()
		}
	} else {
		partition := c.partition(act)
		if err := c.sequences.ValidateSequence(partition, act.SourceSequence(), isDuplicate); err != nil {
			if c.metrics != nil {
				c.metrics.SequenceOutOfOrder.WithLabelValues(partition).Inc()
			}
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		c.reject(actionType, "duplicate")
		return nil
	}

	if err := c.dispatch(act); err != nil {
		// The engine reverts its own mutations before returning an error.
		// A journal entry surviving a rejection means the revert failed
		// and the ledger no longer matches the hash chain.
		if leaked := c.ledger.JournalLen() - c.journalMark; leaked > 0 {
			panic(fmt.Sprintf("FATAL: rejected %s left %d journal entries", actionType, leaked))
		}
		c.reject(actionType, "dispatch")
		return fmt.Errorf("dispatch failed: %w", err)
	}

	journals := c.drainJournal()
	stateDigest := c.computeStateDigest()
	prevHash := c.hasher.Tip()
	stateHash := c.hasher.Advance(c.sequence, stateDigest)

	blk := act.Block()
	envelope := &action.Envelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		ActionType:     act.ActionType(),
		CurveID:        act.CurveID(),
		BlockHeight:    blk.Height,
		BlockTime:      blk.Time,
		SourceSequence: act.SourceSequence(),
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	c.sequence++

	if err := c.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	positions, funding := c.collectProjection(act)
	output := Output{
		Envelope:   envelope,
		Action:     act,
		Journals:   journals,
		StateDelta: stateDigest,
		Positions:  positions,
		Funding:    funding,
	}

	if !c.replaying {
		// Persistence: blocking send, the core stalls until the persistence
		// worker drains. No processed action is ever lost.
		c.persistChan <- output

		// Projections: non-blocking send, drop on full. Projections rebuild
		// from the event log when they fall behind.
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.Inc()
			}
		}
	}

	c.idempotency.MarkProcessed(actionType, idempotencyKey)
	c.recordMetrics(act, actionType, len(journals), start)

	return nil
}

func (c *Core) reject(actionType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreActionsRejected.WithLabelValues(actionType, reason).Inc()
	}
}

// partition determines the sequence partition for an action.
func (c *Core) partition(act action.Action) string {
	if curveID := act.CurveID(); curveID != nil {
		return fmt.Sprintf("curve:%s", *curveID)
	}
	return "global"
}

func (c *Core) dispatch(act action.Action) error {
	blk := act.Block()

	switch a := act.(type) {
	case *action.OpenPosition:
		return c.engine.OpenPosition(a.Trader, a.Curve, a.Side, a.QuoteAmount, a.Leverage, a.BaseLimit, blk)
	case *action.ClosePosition:
		return c.engine.ClosePosition(a.Trader, a.Curve, a.QuoteLimit, blk)
	case *action.DepositMargin:
		return c.engine.DepositMargin(a.Trader, a.Curve, a.Amount, blk)
	case *action.WithdrawMargin:
		return c.engine.WithdrawMargin(a.Trader, a.Curve, a.Amount, blk)
	case *action.Liquidate:
		return c.engine.Liquidate(a.Liquidator, a.Curve, a.Trader, a.QuoteLimit, blk)
	case *action.PayFunding:
		return c.engine.PayFunding(a.Curve, blk)
	case *action.OraclePrice:
		return c.feed.AppendPrice(c.feedOwner, a.FeedKey, a.Price, a.Time)
	case *action.RiskParamUpdate:
		return c.engine.UpdateConfig(a.Caller, engine.ConfigUpdate{
			InitialMarginRatio:      a.InitialMarginRatio,
			MaintenanceMarginRatio:  a.MaintenanceMarginRatio,
			PartialLiquidationRatio: a.PartialLiquidationRatio,
			LiquidationFee:          a.LiquidationFee,
		})
	case *action.SetPause:
		return c.engine.SetPause(a.Caller, a.Paused)
	default:
		return fmt.Errorf("unknown action type: %T", act)
	}
}

// collectProjection gathers the position rows and funding data an
// applied action changed. Runs after a successful dispatch.
func (c *Core) collectProjection(act action.Action) ([]engine.Position, *FundingUpdate) {
	touched := func(curve, trader string) []engine.Position {
		pos, err := c.engine.GetPosition(curve, trader)
		if err != nil {
			// Position no longer exists: emit a tombstone row.
			return []engine.Position{{Curve: curve, Trader: trader}}
		}
		return []engine.Position{pos}
	}

	switch a := act.(type) {
	case *action.OpenPosition:
		return touched(a.Curve, a.Trader), nil
	case *action.ClosePosition:
		return touched(a.Curve, a.Trader), nil
	case *action.DepositMargin:
		return touched(a.Curve, a.Trader), nil
	case *action.WithdrawMargin:
		return touched(a.Curve, a.Trader), nil
	case *action.Liquidate:
		return touched(a.Curve, a.Trader), nil
	case *action.PayFunding:
		upd := &FundingUpdate{Curve: a.Curve, BlockTime: a.Time}
		if cpf, err := c.engine.GetCumulativePremiumFraction(a.Curve); err == nil {
			upd.PremiumFraction = cpf
		}
		if v, ok := c.fund.Curve(a.Curve); ok {
			upd.FundingRate = v.State().FundingRate
		}
		return nil, upd
	default:
		return nil, nil
	}
}

// drainJournal copies the ledger entries the last dispatch produced.
func (c *Core) drainJournal() []bank.Journal {
	delta := c.ledger.Journal(c.journalMark)
	c.journalMark = c.ledger.JournalLen()
	if len(delta) == 0 {
		return nil
	}
	journals := make([]bank.Journal, len(delta))
	copy(journals, delta)
	return journals
}

// computeStateDigest builds the canonical bytes hashed into the chain:
// every open position in (curve, trader) order, then every balance.
func (c *Core) computeStateDigest() []byte {
	positions := c.engine.Positions()
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Curve != positions[j].Curve {
			return positions[i].Curve < positions[j].Curve
		}
		return positions[i].Trader < positions[j].Trader
	})

	balances := c.ledger.Snapshot()

	digest := make([]byte, 0, len(positions)*96+len(balances)*48)
	for i := range positions {
		digest = append(digest, positions[i].CanonicalBytes()...)
	}
	for _, entry := range balances {
		digest = append(digest, byte(len(entry.Address)))
		digest = append(digest, []byte(entry.Address)...)
		digest = append(digest, byte(len(entry.Denom)))
		digest = append(digest, []byte(entry.Denom)...)
		digest = appendInt64LE(digest, entry.Amount)
	}
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants runs the periodic global zero-sum supply check.
func (c *Core) postCheckInvariants() error {
	if c.sequence > 0 && c.sequence%supplyCheckInterval == 0 {
		if err := c.ledger.ValidateSupply(); err != nil {
			return fmt.Errorf("supply check at seq %d: %w", c.sequence, err)
		}
	}
	return nil
}

func (c *Core) recordMetrics(act action.Action, actionType string, journalCount int, start time.Time) {
	if c.metrics == nil {
		return
	}

	c.metrics.CoreActionsApplied.WithLabelValues(actionType).Inc()
	c.metrics.CoreActionDuration.WithLabelValues(actionType).Observe(time.Since(start).Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence))
	c.metrics.CoreJournals.Add(float64(journalCount))

	cfg := c.engine.Configuration()
	c.metrics.InsuranceFundBalance.Set(float64(c.ledger.BalanceOf(cfg.InsuranceFund, cfg.EligibleCollateral)))

	switch a := act.(type) {
	case *action.PayFunding:
		c.metrics.FundingSettled.WithLabelValues(a.Curve).Inc()
		if v, ok := c.fund.Curve(a.Curve); ok {
			c.metrics.FundingRate.WithLabelValues(a.Curve).Set(float64(v.State().FundingRate))
		}
	case *action.Liquidate:
		c.metrics.Liquidations.WithLabelValues(a.Curve).Inc()
		if st, err := c.engine.CurveState(a.Curve); err == nil {
			c.metrics.BadDebtPrepaid.WithLabelValues(a.Curve).Set(float64(st.BadDebt))
		}
	}
}

// SetReplay toggles replay mode. While replaying, dedup checks and
// output emission are suppressed: the shell re-applies the durable log
// on top of a snapshot, so every action is a known duplicate and every
// output is already persisted. Keys still land in the LRU so live
// traffic dedups after replay finishes.
func (c *Core) SetReplay(on bool) {
	c.replaying = on
}

// Sequence returns the next global sequence to assign.
func (c *Core) Sequence() int64 {
	return c.sequence
}

// StateHash returns the current hash chain tip.
func (c *Core) StateHash() [32]byte {
	return c.hasher.Tip()
}

// --- Snapshot & restore ---

// CurveSnapshot captures one curve's mutable state and reserve history.
type CurveSnapshot struct {
	State     vamm.State
	Snapshots []vamm.ReserveSnapshot
}

// SnapshotState is the full serializable in-memory state.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        []bank.BalanceEntry
	Engine          engine.Snapshot
	Curves          map[string]CurveSnapshot
	FeedSamples     map[string][]oracle.PriceData
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state.
func (c *Core) CreateSnapshotState() *SnapshotState {
	curves := make(map[string]CurveSnapshot)
	for _, id := range c.fund.CurveIDs() {
		v, ok := c.fund.Curve(id)
		if !ok {
			continue
		}
		history := v.Snapshots()
		snaps := make([]vamm.ReserveSnapshot, len(history))
		copy(snaps, history)
		curves[id] = CurveSnapshot{State: v.State(), Snapshots: snaps}
	}

	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.Tip(),
		Balances:        c.ledger.Snapshot(),
		Engine:          c.engine.ExportSnapshot(),
		Curves:          curves,
		FeedSamples:     c.feed.Samples(),
		SequenceState:   c.sequences.Partitions(),
		IdempotencyKeys: c.idempotency.Keys(),
	}
}

// RestoreFromSnapshot overwrites the in-memory state. Events after the
// snapshot's sequence are replayed on top by the caller.
func (c *Core) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1
	c.hasher.SetTip(snap.StateHash)

	c.ledger.Restore(snap.Balances)
	c.journalMark = c.ledger.JournalLen()

	c.engine.RestoreSnapshot(snap.Engine)
	c.feed.Restore(snap.FeedSamples)

	for id, cs := range snap.Curves {
		if v, ok := c.fund.Curve(id); ok {
			v.Restore(cs.State, cs.Snapshots)
		}
	}

	for partition, seq := range snap.SequenceState {
		c.sequences.RestorePartition(partition, seq)
	}

	c.idempotency.WarmFromKeys(snap.IdempotencyKeys)
}
