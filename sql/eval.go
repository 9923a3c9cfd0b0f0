package sql

import (
	"math"

	"github.com/guileen/crossquery/types"
)

// Env binds the names an expression may reference.
type Env struct {
	// Alias is the FROM alias that Root is bound to.
	Alias string
	Root  types.Item
	// Params holds @name bindings.
	Params map[string]types.Item
	// Aggregates holds the computed value of each aggregate call node.
	Aggregates map[*Call]types.Item
}

// Eval evaluates e. Errors never occur at evaluation time: type mismatches
// and missing properties yield undefined, as the dialect requires.
func Eval(e Expr, env *Env) types.Item {
	switch n := e.(type) {
	case *Literal:
		return n.Value
	case *Param:
		if env.Params == nil {
			return types.UndefinedItem()
		}
		return env.Params[n.Name]
	case *Ident:
		if n.Name == env.Alias {
			return env.Root
		}
		return types.UndefinedItem()
	case *Property:
		return Eval(n.Base, env).Get(n.Name)
	case *Index:
		base := Eval(n.Base, env)
		idx := Eval(n.Index, env)
		if s, ok := idx.AsString(); ok {
			return base.Get(s)
		}
		if f, ok := idx.AsNumber(); ok && f == math.Trunc(f) {
			return base.Index(int(f))
		}
		return types.UndefinedItem()
	case *Unary:
		return evalUnary(n, env)
	case *Binary:
		return evalBinary(n, env)
	case *Between:
		x := Eval(n.X, env)
		lo, okLo := types.CompareComparable(x, Eval(n.Lo, env))
		hi, okHi := types.CompareComparable(x, Eval(n.Hi, env))
		if !okLo || !okHi {
			return types.UndefinedItem()
		}
		in := lo >= 0 && hi <= 0
		return types.BoolItem(in != n.Not)
	case *In:
		x := Eval(n.X, env)
		if !x.IsDefined() {
			return types.UndefinedItem()
		}
		found := false
		for _, candidate := range n.List {
			v := Eval(candidate, env)
			if v.Kind() == x.Kind() && types.Equal(x, v) {
				found = true
				break
			}
		}
		return types.BoolItem(found != n.Not)
	case *Ternary:
		if Eval(n.Cond, env).IsTrue() {
			return Eval(n.Then, env)
		}
		return Eval(n.Else, env)
	case *Call:
		if aggregateNames[n.Name] {
			if env.Aggregates == nil {
				return types.UndefinedItem()
			}
			return env.Aggregates[n]
		}
		args := make([]types.Item, len(n.Args))
		for i, a := range n.Args {
			args[i] = Eval(a, env)
		}
		fn, ok := builtins[n.Name]
		if !ok || (fn.arity >= 0 && fn.arity != len(args)) {
			return types.UndefinedItem()
		}
		return fn.call(args)
	case *ArrayLit:
		elems := make([]types.Item, 0, len(n.Elems))
		for _, x := range n.Elems {
			if v := Eval(x, env); v.IsDefined() {
				elems = append(elems, v)
			}
		}
		return types.ArrayItem(elems...)
	case *ObjectLit:
		fields := make([]types.Field, 0, len(n.Fields))
		for _, f := range n.Fields {
			fields = append(fields, types.F(f.Name, Eval(f.Value, env)))
		}
		return types.ObjectItem(fields...)
	}
	return types.UndefinedItem()
}

func evalUnary(n *Unary, env *Env) types.Item {
	x := Eval(n.X, env)
	switch n.Op {
	case "NOT":
		if b, ok := x.AsBool(); ok {
			return types.BoolItem(!b)
		}
	case "-":
		if f, ok := x.AsNumber(); ok {
			return types.NumberItem(-f)
		}
	case "+":
		if _, ok := x.AsNumber(); ok {
			return x
		}
	}
	return types.UndefinedItem()
}

func evalBinary(n *Binary, env *Env) types.Item {
	switch n.Op {
	case "AND":
		l := Eval(n.L, env)
		if b, ok := l.AsBool(); ok && !b {
			return l
		}
		r := Eval(n.R, env)
		if b, ok := r.AsBool(); ok && !b {
			return r
		}
		if l.IsTrue() && r.IsTrue() {
			return types.BoolItem(true)
		}
		return types.UndefinedItem()
	case "OR":
		l := Eval(n.L, env)
		if l.IsTrue() {
			return l
		}
		r := Eval(n.R, env)
		if r.IsTrue() {
			return r
		}
		_, lb := l.AsBool()
		_, rb := r.AsBool()
		if lb && rb {
			return types.BoolItem(false)
		}
		return types.UndefinedItem()
	case "??":
		if l := Eval(n.L, env); l.IsDefined() {
			return l
		}
		return Eval(n.R, env)
	}

	l, r := Eval(n.L, env), Eval(n.R, env)
	switch n.Op {
	case "=", "!=":
		if !l.IsDefined() || !r.IsDefined() || l.Kind() != r.Kind() {
			return types.UndefinedItem()
		}
		eq := types.Equal(l, r)
		return types.BoolItem(eq == (n.Op == "="))
	case "<", "<=", ">", ">=":
		c, ok := types.CompareComparable(l, r)
		if !ok {
			return types.UndefinedItem()
		}
		switch n.Op {
		case "<":
			return types.BoolItem(c < 0)
		case "<=":
			return types.BoolItem(c <= 0)
		case ">":
			return types.BoolItem(c > 0)
		}
		return types.BoolItem(c >= 0)
	case "||":
		ls, okL := l.AsString()
		rs, okR := r.AsString()
		if !okL || !okR {
			return types.UndefinedItem()
		}
		return types.StringItem(ls + rs)
	}

	lf, okL := l.AsNumber()
	rf, okR := r.AsNumber()
	if !okL || !okR {
		return types.UndefinedItem()
	}
	switch n.Op {
	case "+":
		return types.NumberItem(lf + rf)
	case "-":
		return types.NumberItem(lf - rf)
	case "*":
		return types.NumberItem(lf * rf)
	case "/":
		if rf == 0 {
			return types.UndefinedItem()
		}
		return types.NumberItem(lf / rf)
	case "%":
		if rf == 0 {
			return types.UndefinedItem()
		}
		return types.NumberItem(math.Mod(lf, rf))
	}
	return types.UndefinedItem()
}
