package models

import (
	"fmt"
	"math/rand"
	"slices"
)

// EffectKind is the tag of a whitelisted state mutation.
type EffectKind string

const (
	EffectAddItem        EffectKind = "add_item"
	EffectRemoveItem     EffectKind = "remove_item"
	EffectModifyResource EffectKind = "modify_resource"
	EffectModifyStat     EffectKind = "modify_stat"
	EffectSetFlag        EffectKind = "set_flag"
	EffectClearFlag      EffectKind = "clear_flag"
	EffectAdvanceTime    EffectKind = "advance_time"
	EffectDamageWagon    EffectKind = "damage_wagon"
	EffectRepairWagon    EffectKind = "repair_wagon"
	EffectLogJournal     EffectKind = "log_journal"
	EffectQueueFollowup  EffectKind = "queue_followup"
)

// EffectKinds is the closed whitelist.
var EffectKinds = []EffectKind{
	EffectAddItem, EffectRemoveItem, EffectModifyResource, EffectModifyStat,
	EffectSetFlag, EffectClearFlag, EffectAdvanceTime, EffectDamageWagon,
	EffectRepairWagon, EffectLogJournal, EffectQueueFollowup,
}

// Valid reports whether k is on the whitelist.
func (k EffectKind) Valid() bool {
	return slices.Contains(EffectKinds, k)
}

// Member targets accepted by ModifyStat besides a member id.
const (
	TargetParty  = "party"
	TargetRandom = "random"
)

// Effect is a single whitelisted mutation. The set of implementations is
// closed: only the types in this file satisfy it.
type Effect interface {
	Kind() EffectKind
	effect()
}

type AddItem struct {
	Item string
	Qty  int
}

type RemoveItem struct {
	Item string
	Qty  int
}

type ModifyResource struct {
	Resource string
	Delta    int
}

// ModifyStat changes health or morale of a member, every active member
// (TargetParty) or one active member picked at random (TargetRandom).
type ModifyStat struct {
	Target string
	Stat   string
	Delta  int
}

type SetFlag struct{ Flag string }

type ClearFlag struct{ Flag string }

type AdvanceTime struct{ Days int }

type DamageWagon struct{ Amount int }

type RepairWagon struct{ Amount int }

type LogJournal struct{ Text string }

// QueueFollowup schedules a follow-up; Earliest and Latest are day offsets
// from the day the effect is applied.
type QueueFollowup struct {
	Tag      string
	Earliest int
	Latest   int
}

func (AddItem) Kind() EffectKind        { return EffectAddItem }
func (RemoveItem) Kind() EffectKind     { return EffectRemoveItem }
func (ModifyResource) Kind() EffectKind { return EffectModifyResource }
func (ModifyStat) Kind() EffectKind     { return EffectModifyStat }
func (SetFlag) Kind() EffectKind        { return EffectSetFlag }
func (ClearFlag) Kind() EffectKind      { return EffectClearFlag }
func (AdvanceTime) Kind() EffectKind    { return EffectAdvanceTime }
func (DamageWagon) Kind() EffectKind    { return EffectDamageWagon }
func (RepairWagon) Kind() EffectKind    { return EffectRepairWagon }
func (LogJournal) Kind() EffectKind     { return EffectLogJournal }
func (QueueFollowup) Kind() EffectKind  { return EffectQueueFollowup }

func (AddItem) effect()        {}
func (RemoveItem) effect()     {}
func (ModifyResource) effect() {}
func (ModifyStat) effect()     {}
func (SetFlag) effect()        {}
func (ClearFlag) effect()      {}
func (AdvanceTime) effect()    {}
func (DamageWagon) effect()    {}
func (RepairWagon) effect()    {}
func (LogJournal) effect()     {}
func (QueueFollowup) effect()  {}

// EffectSpec is the wire form of an effect, shared by generated JSON and the
// YAML deck.
type EffectSpec struct {
	Op       string `json:"op" yaml:"op"`
	Target   string `json:"target,omitempty" yaml:"target,omitempty"`
	Stat     string `json:"stat,omitempty" yaml:"stat,omitempty"`
	Value    int    `json:"value,omitempty" yaml:"value,omitempty"`
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
	Earliest int    `json:"earliest,omitempty" yaml:"earliest,omitempty"`
	Latest   int    `json:"latest,omitempty" yaml:"latest,omitempty"`
}

// Effect converts the wire form into its typed variant. Only the tag is
// checked here; payload semantics are the validator's job.
func (s EffectSpec) Effect() (Effect, error) {
	switch EffectKind(s.Op) {
	case EffectAddItem:
		return AddItem{Item: s.Target, Qty: s.Value}, nil
	case EffectRemoveItem:
		return RemoveItem{Item: s.Target, Qty: s.Value}, nil
	case EffectModifyResource:
		return ModifyResource{Resource: s.Target, Delta: s.Value}, nil
	case EffectModifyStat:
		return ModifyStat{Target: s.Target, Stat: s.Stat, Delta: s.Value}, nil
	case EffectSetFlag:
		return SetFlag{Flag: s.Target}, nil
	case EffectClearFlag:
		return ClearFlag{Flag: s.Target}, nil
	case EffectAdvanceTime:
		return AdvanceTime{Days: s.Value}, nil
	case EffectDamageWagon:
		return DamageWagon{Amount: s.Value}, nil
	case EffectRepairWagon:
		return RepairWagon{Amount: s.Value}, nil
	case EffectLogJournal:
		return LogJournal{Text: s.Text}, nil
	case EffectQueueFollowup:
		return QueueFollowup{Tag: s.Target, Earliest: s.Earliest, Latest: s.Latest}, nil
	}
	return nil, fmt.Errorf("effect op %q is not whitelisted", s.Op)
}

// SpecOf converts a typed effect back to its wire form.
func SpecOf(e Effect) EffectSpec {
	s := EffectSpec{Op: string(e.Kind())}
	switch e := e.(type) {
	case AddItem:
		s.Target, s.Value = e.Item, e.Qty
	case RemoveItem:
		s.Target, s.Value = e.Item, e.Qty
	case ModifyResource:
		s.Target, s.Value = e.Resource, e.Delta
	case ModifyStat:
		s.Target, s.Stat, s.Value = e.Target, e.Stat, e.Delta
	case SetFlag:
		s.Target = e.Flag
	case ClearFlag:
		s.Target = e.Flag
	case AdvanceTime:
		s.Value = e.Days
	case DamageWagon:
		s.Value = e.Amount
	case RepairWagon:
		s.Value = e.Amount
	case LogJournal:
		s.Text = e.Text
	case QueueFollowup:
		s.Target, s.Earliest, s.Latest = e.Tag, e.Earliest, e.Latest
	}
	return s
}

// Apply mutates s with one effect. It fails with ErrInvariant when the effect
// would push a resource or item count below zero or names a missing member;
// s may be partially modified in that case, so callers apply batches to a
// clone (see ApplyBatch).
func (s *GameState) Apply(e Effect, rng *rand.Rand) error {
	switch e := e.(type) {
	case AddItem:
		if e.Qty <= 0 {
			return fmt.Errorf("%w: add_item %s quantity %d", ErrInvariant, e.Item, e.Qty)
		}
		if s.Inventory == nil {
			s.Inventory = make(map[string]int)
		}
		s.Inventory[e.Item] += e.Qty
	case RemoveItem:
		held := s.Inventory[e.Item]
		if e.Qty <= 0 || held < e.Qty {
			return fmt.Errorf("%w: remove %d %s with %d held", ErrInvariant, e.Qty, e.Item, held)
		}
		if held == e.Qty {
			delete(s.Inventory, e.Item)
		} else {
			s.Inventory[e.Item] = held - e.Qty
		}
	case ModifyResource:
		if _, ok := s.Resources[e.Resource]; !ok {
			return fmt.Errorf("%w: unknown resource %s", ErrInvariant, e.Resource)
		}
		next := s.Resources[e.Resource] + e.Delta
		if next < 0 {
			return fmt.Errorf("%w: %s would drop to %d", ErrInvariant, e.Resource, next)
		}
		if e.Resource == ResourceWagon {
			next = min(next, 100)
		}
		s.Resources[e.Resource] = next
	case ModifyStat:
		targets, err := s.statTargets(e.Target, rng)
		if err != nil {
			return err
		}
		for _, i := range targets {
			m := &s.Party[i]
			switch e.Stat {
			case StatHealth:
				m.Health = clamp(m.Health+e.Delta, 0, 100)
			case StatMorale:
				m.Morale = clamp(m.Morale+e.Delta, 0, 100)
			default:
				return fmt.Errorf("%w: unknown stat %s", ErrInvariant, e.Stat)
			}
		}
	case SetFlag:
		s.SetFlag(e.Flag)
	case ClearFlag:
		s.ClearFlag(e.Flag)
	case AdvanceTime:
		if e.Days < 0 {
			return fmt.Errorf("%w: advance_time %d days", ErrInvariant, e.Days)
		}
		s.Day += e.Days
	case DamageWagon:
		s.Resources[ResourceWagon] = clamp(s.Resources[ResourceWagon]-e.Amount, 0, 100)
	case RepairWagon:
		s.Resources[ResourceWagon] = clamp(s.Resources[ResourceWagon]+e.Amount, 0, 100)
	case LogJournal:
		s.AddJournal(e.Text)
	case QueueFollowup:
		s.Followups = append(s.Followups, Followup{
			Tag:         e.Tag,
			EarliestDay: s.Day + e.Earliest,
			LatestDay:   s.Day + e.Latest,
		})
	default:
		return fmt.Errorf("%w: unsupported effect %T", ErrInvariant, e)
	}
	return s.CheckInvariants()
}

func (s *GameState) statTargets(target string, rng *rand.Rand) ([]int, error) {
	switch target {
	case TargetParty:
		return s.ActiveMembers(), nil
	case TargetRandom:
		active := s.ActiveMembers()
		if len(active) == 0 {
			return nil, nil
		}
		return []int{active[rng.Intn(len(active))]}, nil
	}
	i := s.Member(target)
	if i < 0 {
		return nil, fmt.Errorf("%w: unknown party member %s", ErrInvariant, target)
	}
	return []int{i}, nil
}

// BatchError reports which effect of a batch broke an invariant.
type BatchError struct {
	Index int
	Kind  EffectKind
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("effect %d (%s): %v", e.Index, e.Kind, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// ApplyBatch applies effects in order to a copy of s and returns the copy.
// If any effect fails, the copy is discarded and s is left untouched.
func (s *GameState) ApplyBatch(effects []Effect, rng *rand.Rand) (*GameState, error) {
	next := s.Clone()
	for i, e := range effects {
		if err := next.Apply(e, rng); err != nil {
			return nil, &BatchError{Index: i, Kind: e.Kind(), Err: err}
		}
	}
	return next, nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
