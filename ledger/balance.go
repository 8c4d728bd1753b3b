/*
balance.go - Balance Ledger

PURPOSE:
  Applies and reverses transaction deltas on account-holder buckets. Every
  account holder has, per program, a confirmed counter (usable points) and
  a pending counter (promised, not yet usable).

OPERATIONS:
  Apply(id, delta, mode):
    ApplyConfirmed:          confirmed += delta
    ApplyPending:            pending   += delta
    ApplyPendingToConfirmed: pending   -= delta, confirmed += delta
    then all 8 counters of the holder are clamped to max(0, v).

  SplitAndApplyRevert(id, inverse, priority):
    Capped reversal. A negative adjustment is absorbed first by the
    priority bucket up to its balance, then by the other bucket up to its
    balance. Whatever neither bucket holds is dropped: the reversal undoes
    only what is provably still there.

  Move(id, delta, from, to):
    Capped bucket move used for status changes in both directions.
    confirmed + pending is conserved per program.

INVARIANT:
  After any operation every counter of the touched holder is >= 0.

CLAMP REPORTING:
  Points dropped by a clamp or a cap are reported to the table's
  ClampObserver so operators can see lossy events (metrics.go wires it to
  a Prometheus counter).

SEE ALSO:
  - compras/service.go: sequences these operations per transaction edit
*/
package ledger

import (
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// BUCKETS AND MODES
// =============================================================================

// Bucket names one of the two counters of a holder.
type Bucket string

const (
	BucketConfirmed Bucket = "confirmed"
	BucketPending   Bucket = "pending"
)

func (b Bucket) Other() Bucket {
	if b == BucketConfirmed {
		return BucketPending
	}
	return BucketConfirmed
}

// ApplyMode selects how Apply moves a delta.
type ApplyMode string

const (
	ApplyConfirmed          ApplyMode = "confirmed"
	ApplyPending            ApplyMode = "pending"
	ApplyPendingToConfirmed ApplyMode = "pendingToConfirmed"
)

func ParseApplyMode(s string) (ApplyMode, error) {
	switch m := ApplyMode(s); m {
	case ApplyConfirmed, ApplyPending, ApplyPendingToConfirmed:
		return m, nil
	}
	return "", &ValidationError{Field: "mode", Message: fmt.Sprintf("unknown apply mode %q", s)}
}

// ClampObserver is told how many points an operation dropped to keep a
// holder non-negative.
type ClampObserver func(op string, holderID AccountHolderID, dropped int64)

// =============================================================================
// HOLDER TABLE - The account_holders document
// =============================================================================

// HolderTable is the whole account_holders collection, loaded and saved as
// one document. Version is the store's optimistic-concurrency stamp.
type HolderTable struct {
	Version int64                             `json:"-"`
	Holders map[AccountHolderID]*AccountHolder `json:"holders"`

	// OnClamp receives lossy-event reports; nil is allowed.
	OnClamp ClampObserver `json:"-"`

	touched map[AccountHolderID]bool
	now     func() time.Time
}

func NewHolderTable() *HolderTable {
	return &HolderTable{Holders: make(map[AccountHolderID]*AccountHolder)}
}

// Get returns the holder or a NotFoundError.
func (t *HolderTable) Get(id AccountHolderID) (*AccountHolder, error) {
	h, ok := t.Holders[id]
	if !ok {
		return nil, &NotFoundError{Resource: "account_holder", ID: string(id)}
	}
	return h, nil
}

// Put inserts or replaces a holder, clamping its buckets.
func (t *HolderTable) Put(h AccountHolder) {
	if t.Holders == nil {
		t.Holders = make(map[AccountHolderID]*AccountHolder)
	}
	h.Confirmed, _ = h.Confirmed.clamped()
	h.Pending, _ = h.Pending.clamped()
	h.UpdatedAt = t.clock()
	t.Holders[h.ID] = &h
	t.touch(h.ID)
}

// List returns the holders sorted by id.
func (t *HolderTable) List() []AccountHolder {
	out := make([]AccountHolder, 0, len(t.Holders))
	for _, h := range t.Holders {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Touched returns the holders modified since the table was loaded, sorted
// by id. These are the "updated balances" reported to callers.
func (t *HolderTable) Touched() []AccountHolder {
	out := make([]AccountHolder, 0, len(t.touched))
	for id := range t.touched {
		if h, ok := t.Holders[id]; ok {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *HolderTable) touch(id AccountHolderID) {
	if t.touched == nil {
		t.touched = make(map[AccountHolderID]bool)
	}
	t.touched[id] = true
}

func (t *HolderTable) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now().UTC()
}

func (t *HolderTable) report(op string, id AccountHolderID, dropped int64) {
	if dropped > 0 && t.OnClamp != nil {
		t.OnClamp(op, id, dropped)
	}
}

// =============================================================================
// APPLY
// =============================================================================

// Apply adds delta to the holder's buckets according to mode and clamps.
func (t *HolderTable) Apply(id AccountHolderID, delta ProgramPoints, mode ApplyMode) error {
	h, err := t.Get(id)
	if err != nil {
		return err
	}

	switch mode {
	case ApplyConfirmed:
		h.Confirmed = h.Confirmed.Plus(delta)
	case ApplyPending:
		h.Pending = h.Pending.Plus(delta)
	case ApplyPendingToConfirmed:
		h.Pending = h.Pending.Plus(delta.Neg())
		h.Confirmed = h.Confirmed.Plus(delta)
	default:
		return &ValidationError{Field: "mode", Message: fmt.Sprintf("unknown apply mode %q", mode)}
	}

	var d1, d2 int64
	h.Confirmed, d1 = h.Confirmed.clamped()
	h.Pending, d2 = h.Pending.clamped()
	h.UpdatedAt = t.clock()
	t.touch(id)
	t.report("apply", id, d1+d2)
	return nil
}

// =============================================================================
// CAPPED REVERSAL
// =============================================================================

// SplitAndApplyRevert applies inverse (the negation of a committed delta)
// to the holder, preferring the priority bucket and never going below 0.
func (t *HolderTable) SplitAndApplyRevert(id AccountHolderID, inverse ProgramPoints, priority Bucket) error {
	h, err := t.Get(id)
	if err != nil {
		return err
	}

	first := h.bucketRef(priority)
	second := h.bucketRef(priority.Other())

	var dropped int64
	for _, p := range Programs {
		want := inverse.Of(p)
		if want >= 0 {
			first.Add(p, want)
			continue
		}

		need := -want
		take := min(need, max(first.Of(p), 0))
		first.Add(p, -take)
		need -= take

		if need > 0 {
			spill := min(need, max(second.Of(p), 0))
			second.Add(p, -spill)
			need -= spill
		}
		dropped += need
	}

	// Buckets may only hold negatives if they were loaded that way.
	var d1, d2 int64
	h.Confirmed, d1 = h.Confirmed.clamped()
	h.Pending, d2 = h.Pending.clamped()
	h.UpdatedAt = t.clock()
	t.touch(id)
	t.report("revert", id, dropped+d1+d2)
	return nil
}

// =============================================================================
// CAPPED MOVE
// =============================================================================

// Move shifts delta between buckets. For each program a positive amount d
// moves min(d, from[p]) from "from" to "to"; a negative amount moves
// min(|d|, to[p]) back from "to" to "from". The per-program sum of both
// buckets never changes.
func (t *HolderTable) Move(id AccountHolderID, delta ProgramPoints, from, to Bucket) error {
	if from == to {
		return &ValidationError{Field: "bucket", Message: "move needs two distinct buckets"}
	}
	h, err := t.Get(id)
	if err != nil {
		return err
	}

	src := h.bucketRef(from)
	dst := h.bucketRef(to)

	var dropped int64
	for _, p := range Programs {
		d := delta.Of(p)
		switch {
		case d > 0:
			m := min(d, max(src.Of(p), 0))
			src.Add(p, -m)
			dst.Add(p, m)
			dropped += d - m
		case d < 0:
			m := min(-d, max(dst.Of(p), 0))
			dst.Add(p, -m)
			src.Add(p, m)
			dropped += -d - m
		}
	}

	h.UpdatedAt = t.clock()
	t.touch(id)
	t.report("move", id, dropped)
	return nil
}
