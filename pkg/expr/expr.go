// Package expr implements the predicate/expression algebra: a small
// interpreted AST of tagged nodes (field access, constants, binary and
// unary operators, and container predicates) evaluated against an
// object's payload through the holder algebra. It replaces the
// C++ expression-builder templates (operator overloads returning nested
// template expression trees) with plain Go values walked at evaluation
// time, matching how a query processor rewrite (e.g. point-read
// specialization) would inspect the tree rather than a type.
package expr

import (
	"github.com/cuemby/corestore/pkg/errs"
	"github.com/cuemby/corestore/pkg/holder"
	"github.com/cuemby/corestore/pkg/ids"
	"github.com/cuemby/corestore/pkg/payload"
	"github.com/cuemby/corestore/pkg/record"
)

// Op identifies the operator a Binary or Unary node applies, named after
// the tokens the source recognized (==, !=, >, >=, <, <=, &&, ||, ^, +,
// -, *, /, %, &, |, <<, >>, unary -, unary +, !, ~).
type Op int

const (
	Eq Op = iota
	Ne
	Gt
	Ge
	Lt
	Le
	And
	Or
	Xor
	Add
	Sub
	Mul
	Div
	Mod
	Band
	Bor
	Shl
	Shr
	Not
	Neg
	Pos
	Inv
)

// Context is the object an expression is evaluated against: its decoded
// payload plus the schema needed to resolve a field position to a value.
type Context struct {
	Schema payload.Schema
	Record record.Record
}

// Field resolves pos to the holder value currently stored at that
// position in ctx's record.
func (ctx Context) Field(pos ids.FieldPosition) holder.Holder {
	return payload.Get(ctx.Schema, ctx.Record.Payload, uint16(pos))
}

// Container is the minimal surface a reference_container-shaped value
// needs to expose for Contains/Empty/Count nodes; the direct-access
// facade's reference_container implements this over a relationship's
// sibling chain.
type Container interface {
	// Len returns the number of elements currently in the container.
	Len() int
	// Any reports whether any element satisfies pred, short-circuiting
	// on the first match.
	Any(pred func(Context) (bool, error)) (bool, error)
}

// ContainerNode resolves, against a given Context, the container a
// Contains/Empty/Count node operates over (e.g. "this object's patients"
// read off a relationship slot).
type ContainerNode interface {
	Resolve(Context) (Container, error)
}

// Node is one AST node of the predicate/expression algebra. Eval walks
// the tree against ctx and returns the resulting holder value; a boolean
// result (comparisons, logical connectives, Contains, Empty) is returned
// as holder.FromBool.
type Node interface {
	Eval(ctx Context) (holder.Holder, error)
}

// FieldNode reads a single field off the object under evaluation.
type FieldNode struct {
	Pos ids.FieldPosition
}

func (n FieldNode) Eval(ctx Context) (holder.Holder, error) {
	return ctx.Field(n.Pos), nil
}

// ConstNode is a literal value embedded in the tree.
type ConstNode struct {
	Value holder.Holder
}

func (n ConstNode) Eval(Context) (holder.Holder, error) {
	return n.Value, nil
}

// BinaryNode applies Op to the evaluated Left and Right operands.
type BinaryNode struct {
	Op          Op
	Left, Right Node
}

func (n BinaryNode) Eval(ctx Context) (holder.Holder, error) {
	l, err := n.Left.Eval(ctx)
	if err != nil {
		return holder.Holder{}, err
	}
	r, err := n.Right.Eval(ctx)
	if err != nil {
		return holder.Holder{}, err
	}
	return evalBinary(n.Op, l, r)
}

// UnaryNode applies Op to the evaluated Operand.
type UnaryNode struct {
	Op      Op
	Operand Node
}

func (n UnaryNode) Eval(ctx Context) (holder.Holder, error) {
	v, err := n.Operand.Eval(ctx)
	if err != nil {
		return holder.Holder{}, err
	}
	return evalUnary(n.Op, v)
}

// ContainsNode reports whether any element of Container satisfies
// Predicate.
type ContainsNode struct {
	Container ContainerNode
	Predicate Node
}

func (n ContainsNode) Eval(ctx Context) (holder.Holder, error) {
	c, err := n.Container.Resolve(ctx)
	if err != nil {
		return holder.Holder{}, err
	}
	found, err := c.Any(func(elem Context) (bool, error) {
		v, err := n.Predicate.Eval(elem)
		if err != nil {
			return false, err
		}
		return v.Kind() == holder.KindBool && v.Bool(), nil
	})
	if err != nil {
		return holder.Holder{}, err
	}
	return holder.FromBool(found), nil
}

// EmptyNode reports whether Container has zero elements.
type EmptyNode struct {
	Container ContainerNode
}

func (n EmptyNode) Eval(ctx Context) (holder.Holder, error) {
	c, err := n.Container.Resolve(ctx)
	if err != nil {
		return holder.Holder{}, err
	}
	return holder.FromBool(c.Len() == 0), nil
}

// CountNode evaluates to the number of elements in Container.
type CountNode struct {
	Container ContainerNode
}

func (n CountNode) Eval(ctx Context) (holder.Holder, error) {
	c, err := n.Container.Resolve(ctx)
	if err != nil {
		return holder.Holder{}, err
	}
	return holder.FromInt64(int64(c.Len())), nil
}

// EvalBool evaluates node against ctx and requires the result to be a
// bool holder, as a container scan's Filter does with a predicate tree.
func EvalBool(node Node, ctx Context) (bool, error) {
	v, err := node.Eval(ctx)
	if err != nil {
		return false, err
	}
	if v.Kind() != holder.KindBool {
		return false, errs.New(errs.KindTypeMismatch, "predicate evaluated to non-bool kind %v", v.Kind())
	}
	return v.Bool(), nil
}

func evalBinary(op Op, l, r holder.Holder) (holder.Holder, error) {
	switch op {
	case Eq:
		return holder.FromBool(l.Equal(r)), nil
	case Ne:
		return holder.FromBool(!l.Equal(r)), nil
	case Gt:
		return holder.FromBool(l.Compare(r) > 0), nil
	case Ge:
		return holder.FromBool(l.Compare(r) >= 0), nil
	case Lt:
		return holder.FromBool(l.Compare(r) < 0), nil
	case Le:
		return holder.FromBool(l.Compare(r) <= 0), nil
	case And:
		return holder.FromBool(asBool(l) && asBool(r)), nil
	case Or:
		return holder.FromBool(asBool(l) || asBool(r)), nil
	case Xor:
		return holder.FromBool(asBool(l) != asBool(r)), nil
	case Add:
		return arith(l, r, func(a, b int64) int64 { return a + b }, func(a, b float64) float64 { return a + b })
	case Sub:
		return arith(l, r, func(a, b int64) int64 { return a - b }, func(a, b float64) float64 { return a - b })
	case Mul:
		return arith(l, r, func(a, b int64) int64 { return a * b }, func(a, b float64) float64 { return a * b })
	case Div:
		return arith(l, r, func(a, b int64) int64 { return a / b }, func(a, b float64) float64 { return a / b })
	case Mod:
		if isFloatKind(l.Kind()) || isFloatKind(r.Kind()) {
			return holder.Holder{}, errs.New(errs.KindTypeMismatch, "mod is not defined over floating-point operands")
		}
		return holder.FromInt64(asInt64(l) % asInt64(r)), nil
	case Band:
		return holder.FromInt64(asInt64(l) & asInt64(r)), nil
	case Bor:
		return holder.FromInt64(asInt64(l) | asInt64(r)), nil
	case Shl:
		return holder.FromInt64(asInt64(l) << uint(asInt64(r))), nil
	case Shr:
		return holder.FromInt64(asInt64(l) >> uint(asInt64(r))), nil
	default:
		return holder.Holder{}, errs.New(errs.KindInvalidPredicate, "operator %d is not a binary operator", op)
	}
}

func evalUnary(op Op, v holder.Holder) (holder.Holder, error) {
	switch op {
	case Not:
		return holder.FromBool(!asBool(v)), nil
	case Neg:
		if isFloatKind(v.Kind()) {
			return holder.FromFloat64(-v.Float()), nil
		}
		return holder.FromInt64(-asInt64(v)), nil
	case Pos:
		return v, nil
	case Inv:
		return holder.FromInt64(^asInt64(v)), nil
	default:
		return holder.Holder{}, errs.New(errs.KindInvalidPredicate, "operator %d is not a unary operator", op)
	}
}

func asBool(h holder.Holder) bool {
	if h.Kind() == holder.KindBool {
		return h.Bool()
	}
	return !h.IsNull()
}

func isFloatKind(k holder.Kind) bool {
	return k == holder.KindFloat32 || k == holder.KindFloat64
}

// asInt64 widens any integer-kinded holder (signed or unsigned) to
// int64; used by the bitwise/mod operators, which the source only
// defines over integral operands.
func asInt64(h holder.Holder) int64 {
	switch h.Kind() {
	case holder.KindInt8, holder.KindInt16, holder.KindInt32, holder.KindInt64:
		return h.Int()
	case holder.KindUint8, holder.KindUint16, holder.KindUint32, holder.KindUint64:
		return int64(h.Uint())
	default:
		return 0
	}
}

// asFloat64 widens any numeric-kinded holder to float64.
func asFloat64(h holder.Holder) float64 {
	switch h.Kind() {
	case holder.KindFloat32, holder.KindFloat64:
		return h.Float()
	case holder.KindInt8, holder.KindInt16, holder.KindInt32, holder.KindInt64:
		return float64(h.Int())
	case holder.KindUint8, holder.KindUint16, holder.KindUint32, holder.KindUint64:
		return float64(h.Uint())
	default:
		return 0
	}
}

// arith applies intOp or floatOp depending on whether either operand is
// floating point, matching the source's default-evaluation-template
// promotion (mixed int/float widens to float).
func arith(l, r holder.Holder, intOp func(a, b int64) int64, floatOp func(a, b float64) float64) (holder.Holder, error) {
	if isFloatKind(l.Kind()) || isFloatKind(r.Kind()) {
		return holder.FromFloat64(floatOp(asFloat64(l), asFloat64(r))), nil
	}
	return holder.FromInt64(intOp(asInt64(l), asInt64(r))), nil
}
