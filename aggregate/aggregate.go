// Package aggregate implements the accumulators behind COUNT, SUM, MIN, MAX
// and AVG. A partition folds raw values with Update; the cross-partition
// engine folds the per-partition results with Merge.
package aggregate

import (
	"fmt"
	"strings"

	"github.com/guileen/crossquery/types"
)

// Operator names an aggregate function.
type Operator string

const (
	Count Operator = "COUNT"
	Sum   Operator = "SUM"
	Min   Operator = "MIN"
	Max   Operator = "MAX"
	Avg   Operator = "AVG"
)

// ParseOperator maps a function name, in any case, to an Operator.
func ParseOperator(name string) (Operator, bool) {
	switch op := Operator(strings.ToUpper(name)); op {
	case Count, Sum, Min, Max, Avg:
		return op, true
	}
	return "", false
}

// AggFunction is the running state of one aggregate expression.
type AggFunction interface {
	Init()
	// Update folds one raw input value. Undefined inputs are ignored.
	Update(v types.Item)
	// Merge folds the Finalize result of another accumulator of the same
	// operator. AVG partials are {"sum": s, "count": n}.
	Merge(partial types.Item) error
	// Finalize returns the result; undefined when nothing was seen and the
	// operator has no identity (MIN, MAX, AVG).
	Finalize() types.Item
	Operator() Operator
}

// New returns an initialized accumulator for op.
func New(op Operator) AggFunction {
	var a AggFunction
	switch op {
	case Count:
		a = &CountAgg{}
	case Sum:
		a = &SumAgg{}
	case Min:
		a = &ExtremeAgg{op: Min}
	case Max:
		a = &ExtremeAgg{op: Max}
	case Avg:
		a = &AvgAgg{}
	default:
		panic(fmt.Sprintf("aggregate: unknown operator %q", op))
	}
	a.Init()
	return a
}

// PartialOf is the value a partition must return for op so that Merge can
// combine it: AVG is shipped as its sum and count.
func PartialOf(op Operator, a AggFunction) types.Item {
	if avg, ok := a.(*AvgAgg); ok && op == Avg {
		return avg.Partial()
	}
	return a.Finalize()
}

type CountAgg struct {
	count int64
}

func (a *CountAgg) Init() { a.count = 0 }

func (a *CountAgg) Update(v types.Item) {
	if v.IsDefined() {
		a.count++
	}
}

func (a *CountAgg) Merge(partial types.Item) error {
	n, ok := partial.AsNumber()
	if !ok {
		return fmt.Errorf("aggregate: COUNT partial must be a number, got %s", partial.Kind())
	}
	a.count += int64(n)
	return nil
}

func (a *CountAgg) Finalize() types.Item { return types.NumberItem(float64(a.count)) }

func (a *CountAgg) Operator() Operator { return Count }

// SumAgg adds numeric inputs and skips every other kind. It starts at 0.
type SumAgg struct {
	sum float64
}

func (a *SumAgg) Init() { a.sum = 0 }

func (a *SumAgg) Update(v types.Item) {
	if n, ok := v.AsNumber(); ok {
		a.sum += n
	}
}

func (a *SumAgg) Merge(partial types.Item) error {
	if !partial.IsDefined() {
		return nil
	}
	n, ok := partial.AsNumber()
	if !ok {
		return fmt.Errorf("aggregate: SUM partial must be a number, got %s", partial.Kind())
	}
	a.sum += n
	return nil
}

func (a *SumAgg) Finalize() types.Item { return types.NumberItem(a.sum) }

func (a *SumAgg) Operator() Operator { return Sum }

// ExtremeAgg keeps the smallest (MIN) or largest (MAX) defined input under types.Compare.
type ExtremeAgg struct {
	op      Operator
	extreme types.Item
}

func (a *ExtremeAgg) Init() { a.extreme = types.UndefinedItem() }

func (a *ExtremeAgg) Update(v types.Item) {
	if !v.IsDefined() {
		return
	}
	if !a.extreme.IsDefined() {
		a.extreme = v
		return
	}
	c := types.Compare(v, a.extreme)
	if (a.op == Min && c < 0) || (a.op == Max && c > 0) {
		a.extreme = v
	}
}

func (a *ExtremeAgg) Merge(partial types.Item) error {
	a.Update(partial)
	return nil
}

func (a *ExtremeAgg) Finalize() types.Item { return a.extreme }

func (a *ExtremeAgg) Operator() Operator { return a.op }

// AvgAgg averages numeric inputs. Partitions ship sum and count so the
// merged result is SUM/COUNT across partitions.
type AvgAgg struct {
	sum   float64
	count int64
}

func (a *AvgAgg) Init() {
	a.sum = 0
	a.count = 0
}

func (a *AvgAgg) Update(v types.Item) {
	if n, ok := v.AsNumber(); ok {
		a.sum += n
		a.count++
	}
}

func (a *AvgAgg) Merge(partial types.Item) error {
	if !partial.IsDefined() {
		return nil
	}
	sum, okSum := partial.Get("sum").AsNumber()
	count, okCount := partial.Get("count").AsNumber()
	if !okSum || !okCount {
		return fmt.Errorf("aggregate: AVG partial must be {sum, count}, got %s", partial)
	}
	a.sum += sum
	a.count += int64(count)
	return nil
}

// Partial returns {"sum": s, "count": n}.
func (a *AvgAgg) Partial() types.Item {
	return types.ObjectItem(
		types.F("sum", types.NumberItem(a.sum)),
		types.F("count", types.NumberItem(float64(a.count))),
	)
}

func (a *AvgAgg) Finalize() types.Item {
	if a.count == 0 {
		return types.UndefinedItem()
	}
	return types.NumberItem(a.sum / float64(a.count))
}

func (a *AvgAgg) Operator() Operator { return Avg }
