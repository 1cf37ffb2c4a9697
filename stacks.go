package taproot

import (
	"errors"
	"fmt"
	"strings"
)

// Traversal prune reasons. These are internal control flow, never surfaced to
// callers: a failed match terminates one candidate branch and nothing else.
var (
	errIncorrectPoppedSymbol    = errors.New("incorrect popped symbol")
	errEmptySymbolStack         = errors.New("empty symbol stack")
	errEmptyScopeStack          = errors.New("empty scope stack")
	errMissingAttachedScopes    = errors.New("missing attached scopes")
	errUnexpectedAttachedScopes = errors.New("unexpected attached scopes")
	errIncorrectSourceNode      = errors.New("incorrect source node")
	errStackUnsatisfied         = errors.New("stack condition unsatisfied")
)

// Stack variables name the open, unknown remainder of a symbolic stack
// condition. Zero means the condition is closed: the stack is known exactly.
type (
	SymbolStackVariable uint32
	ScopeStackVariable  uint32
)

// ScopedSymbol is one symbol stack entry: a symbol, optionally paired with
// the scope stack that a pop-scoped-symbol node will install.
type ScopedSymbol struct {
	Symbol SymbolHandle
	// Scopes is nil for plain symbols. The pointed-to stack is immutable
	// once attached; stack operations copy rather than mutate.
	Scopes *PartialScopeStack
}

// PartialScopeStack is a symbolic scope stack condition: zero or more
// concrete scope nodes, optionally followed by an open variable standing for
// an unknown, possibly non-empty remainder. The front of the slice is the
// top of the stack.
type PartialScopeStack struct {
	scopes   []NodeHandle
	variable ScopeStackVariable
}

// PartialSymbolStack is the symbol stack analogue of PartialScopeStack.
type PartialSymbolStack struct {
	entries  []ScopedSymbol
	variable SymbolStackVariable
}

// --- Scope stacks ---

// ScopeStackWithVariable returns the condition "exactly the unknown stack v".
func ScopeStackWithVariable(v ScopeStackVariable) PartialScopeStack {
	return PartialScopeStack{variable: v}
}

// EmptyScopeStack returns the closed, known-empty condition.
func EmptyScopeStack() PartialScopeStack { return PartialScopeStack{} }

func (s PartialScopeStack) Len() int                      { return len(s.scopes) }
func (s PartialScopeStack) Variable() ScopeStackVariable  { return s.variable }
func (s PartialScopeStack) HasVariable() bool             { return s.variable != 0 }
func (s PartialScopeStack) Scopes() []NodeHandle          { return s.scopes }
func (s PartialScopeStack) IsEmpty() bool                 { return len(s.scopes) == 0 && s.variable == 0 }
func (s PartialScopeStack) hasConcreteFront() bool        { return len(s.scopes) > 0 }

// PushFront returns a copy of s with scope on top.
func (s PartialScopeStack) PushFront(scope NodeHandle) PartialScopeStack {
	scopes := make([]NodeHandle, 0, len(s.scopes)+1)
	scopes = append(scopes, scope)
	scopes = append(scopes, s.scopes...)
	return PartialScopeStack{scopes: scopes, variable: s.variable}
}

// PopFront removes the concrete top scope. ok is false when the top is not
// concrete (empty or variable-only).
func (s PartialScopeStack) PopFront() (scope NodeHandle, rest PartialScopeStack, ok bool) {
	if len(s.scopes) == 0 {
		return 0, s, false
	}
	rest = PartialScopeStack{scopes: s.scopes[1:], variable: s.variable}
	return s.scopes[0], rest, true
}

func (s PartialScopeStack) equal(o PartialScopeStack) bool {
	if s.variable != o.variable || len(s.scopes) != len(o.scopes) {
		return false
	}
	for i := range s.scopes {
		if s.scopes[i] != o.scopes[i] {
			return false
		}
	}
	return true
}

// --- Symbol stacks ---

// SymbolStackWithVariable returns the condition "exactly the unknown stack v".
func SymbolStackWithVariable(v SymbolStackVariable) PartialSymbolStack {
	return PartialSymbolStack{variable: v}
}

// EmptySymbolStack returns the closed, known-empty condition.
func EmptySymbolStack() PartialSymbolStack { return PartialSymbolStack{} }

func (s PartialSymbolStack) Len() int                      { return len(s.entries) }
func (s PartialSymbolStack) Variable() SymbolStackVariable { return s.variable }
func (s PartialSymbolStack) HasVariable() bool             { return s.variable != 0 }
func (s PartialSymbolStack) Entries() []ScopedSymbol       { return s.entries }
func (s PartialSymbolStack) IsEmpty() bool                 { return len(s.entries) == 0 && s.variable == 0 }
func (s PartialSymbolStack) hasConcreteFront() bool        { return len(s.entries) > 0 }

// PushFront returns a copy of s with entry on top.
func (s PartialSymbolStack) PushFront(entry ScopedSymbol) PartialSymbolStack {
	entries := make([]ScopedSymbol, 0, len(s.entries)+1)
	entries = append(entries, entry)
	entries = append(entries, s.entries...)
	return PartialSymbolStack{entries: entries, variable: s.variable}
}

// PushBack returns a copy of s with entry appended before the open variable.
// This is how a pop against an unknown remainder grows a precondition.
func (s PartialSymbolStack) PushBack(entry ScopedSymbol) PartialSymbolStack {
	entries := make([]ScopedSymbol, 0, len(s.entries)+1)
	entries = append(entries, s.entries...)
	entries = append(entries, entry)
	return PartialSymbolStack{entries: entries, variable: s.variable}
}

// PopFront removes the concrete top entry. ok is false when the top is not
// concrete.
func (s PartialSymbolStack) PopFront() (entry ScopedSymbol, rest PartialSymbolStack, ok bool) {
	if len(s.entries) == 0 {
		return ScopedSymbol{}, s, false
	}
	rest = PartialSymbolStack{entries: s.entries[1:], variable: s.variable}
	return s.entries[0], rest, true
}

func (s PartialSymbolStack) equal(o PartialSymbolStack) bool {
	if s.variable != o.variable || len(s.entries) != len(o.entries) {
		return false
	}
	for i := range s.entries {
		a, b := s.entries[i], o.entries[i]
		if a.Symbol != b.Symbol {
			return false
		}
		switch {
		case a.Scopes == nil && b.Scopes == nil:
		case a.Scopes != nil && b.Scopes != nil:
			if !a.Scopes.equal(*b.Scopes) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// --- Variable renaming ---

func (s PartialScopeStack) withOffset(offset ScopeStackVariable) PartialScopeStack {
	if s.variable == 0 || offset == 0 {
		return s
	}
	return PartialScopeStack{scopes: s.scopes, variable: s.variable + offset}
}

func (s PartialSymbolStack) withOffset(symOffset SymbolStackVariable, scopeOffset ScopeStackVariable) PartialSymbolStack {
	out := PartialSymbolStack{variable: s.variable}
	if s.variable != 0 && symOffset != 0 {
		out.variable = s.variable + symOffset
	}
	if len(s.entries) == 0 {
		return out
	}
	entries := make([]ScopedSymbol, len(s.entries))
	for i, e := range s.entries {
		entries[i] = e
		if e.Scopes != nil {
			renamed := e.Scopes.withOffset(scopeOffset)
			entries[i].Scopes = &renamed
		}
	}
	out.entries = entries
	return out
}

func (s PartialScopeStack) largestVariable() ScopeStackVariable { return s.variable }

func (s PartialSymbolStack) largestSymbolVariable() SymbolStackVariable { return s.variable }

func (s PartialSymbolStack) largestScopeVariable() ScopeStackVariable {
	var max ScopeStackVariable
	for _, e := range s.entries {
		if e.Scopes != nil && e.Scopes.variable > max {
			max = e.Scopes.variable
		}
	}
	return max
}

// --- Unification ---

// Bindings accumulated while unifying one path's postcondition with another
// path's precondition. Variables from the two sides are disjoint by
// construction (the right-hand path is renamed first).
type stackBindings struct {
	symbols map[SymbolStackVariable]PartialSymbolStack
	scopes  map[ScopeStackVariable]PartialScopeStack
}

func newStackBindings() *stackBindings {
	return &stackBindings{
		symbols: make(map[SymbolStackVariable]PartialSymbolStack),
		scopes:  make(map[ScopeStackVariable]PartialScopeStack),
	}
}

func (b *stackBindings) bindSymbolVariable(v SymbolStackVariable, stack PartialSymbolStack) error {
	if existing, ok := b.symbols[v]; ok {
		return unifySymbolStacks(existing, stack, b)
	}
	b.symbols[v] = stack
	return nil
}

func (b *stackBindings) bindScopeVariable(v ScopeStackVariable, stack PartialScopeStack) error {
	if existing, ok := b.scopes[v]; ok {
		return unifyScopeStacks(existing, stack, b)
	}
	b.scopes[v] = stack
	return nil
}

// unifyScopeStacks matches lhs against rhs entry for entry, binding either
// side's open variable to the other side's excess. Any mismatch is a prune,
// reported as errStackUnsatisfied.
func unifyScopeStacks(lhs, rhs PartialScopeStack, b *stackBindings) error {
	for lhs.hasConcreteFront() && rhs.hasConcreteFront() {
		ls, lrest, _ := lhs.PopFront()
		rs, rrest, _ := rhs.PopFront()
		if ls != rs {
			return errStackUnsatisfied
		}
		lhs, rhs = lrest, rrest
	}
	switch {
	case lhs.hasConcreteFront():
		// rhs exhausted its concrete entries.
		if rhs.variable == 0 {
			return errStackUnsatisfied
		}
		return b.bindScopeVariable(rhs.variable, lhs)
	case rhs.hasConcreteFront():
		if lhs.variable == 0 {
			return errStackUnsatisfied
		}
		return b.bindScopeVariable(lhs.variable, rhs)
	case lhs.variable != 0 && rhs.variable != 0:
		// Both remainders are open. Carry the left variable forward by
		// binding the right one to it.
		return b.bindScopeVariable(rhs.variable, ScopeStackWithVariable(lhs.variable))
	case lhs.variable != 0:
		return b.bindScopeVariable(lhs.variable, EmptyScopeStack())
	case rhs.variable != 0:
		return b.bindScopeVariable(rhs.variable, EmptyScopeStack())
	}
	return nil
}

// unifySymbolStacks is the symbol stack analogue of unifyScopeStacks.
// Concrete entries must match symbol for symbol, and scoped entries unify
// their attached scope stacks as well.
func unifySymbolStacks(lhs, rhs PartialSymbolStack, b *stackBindings) error {
	for lhs.hasConcreteFront() && rhs.hasConcreteFront() {
		le, lrest, _ := lhs.PopFront()
		re, rrest, _ := rhs.PopFront()
		if le.Symbol != re.Symbol {
			return errStackUnsatisfied
		}
		switch {
		case le.Scopes == nil && re.Scopes == nil:
		case le.Scopes != nil && re.Scopes != nil:
			if err := unifyScopeStacks(*le.Scopes, *re.Scopes, b); err != nil {
				return err
			}
		default:
			return errStackUnsatisfied
		}
		lhs, rhs = lrest, rrest
	}
	switch {
	case lhs.hasConcreteFront():
		if rhs.variable == 0 {
			return errStackUnsatisfied
		}
		return b.bindSymbolVariable(rhs.variable, lhs)
	case rhs.hasConcreteFront():
		if lhs.variable == 0 {
			return errStackUnsatisfied
		}
		return b.bindSymbolVariable(lhs.variable, rhs)
	case lhs.variable != 0 && rhs.variable != 0:
		return b.bindSymbolVariable(rhs.variable, SymbolStackWithVariable(lhs.variable))
	case lhs.variable != 0:
		return b.bindSymbolVariable(lhs.variable, EmptySymbolStack())
	case rhs.variable != 0:
		return b.bindSymbolVariable(rhs.variable, EmptySymbolStack())
	}
	return nil
}

// applyScopeBindings rewrites s, splicing in the stack bound to its open
// variable, if any.
func applyScopeBindings(s PartialScopeStack, b *stackBindings) PartialScopeStack {
	bound, ok := b.scopes[s.variable]
	if s.variable == 0 || !ok {
		return s
	}
	scopes := make([]NodeHandle, 0, len(s.scopes)+len(bound.scopes))
	scopes = append(scopes, s.scopes...)
	scopes = append(scopes, bound.scopes...)
	return PartialScopeStack{scopes: scopes, variable: bound.variable}
}

// applySymbolBindings rewrites s, splicing in the stack bound to its open
// variable and rewriting every attached scope stack.
func applySymbolBindings(s PartialSymbolStack, b *stackBindings) PartialSymbolStack {
	entries := make([]ScopedSymbol, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Scopes != nil {
			rewritten := applyScopeBindings(*e.Scopes, b)
			e.Scopes = &rewritten
		}
		entries = append(entries, e)
	}
	variable := s.variable
	if bound, ok := b.symbols[s.variable]; s.variable != 0 && ok {
		for _, e := range bound.entries {
			if e.Scopes != nil {
				rewritten := applyScopeBindings(*e.Scopes, b)
				e.Scopes = &rewritten
			}
			entries = append(entries, e)
		}
		variable = bound.variable
	}
	return PartialSymbolStack{entries: entries, variable: variable}
}

// --- Display ---

func (s PartialScopeStack) display(g *StackGraph) string {
	var sb strings.Builder
	for i, scope := range s.scopes {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(g.nodeDisplay(scope))
	}
	if s.variable != 0 {
		if len(s.scopes) > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "$%d", s.variable)
	}
	return "(" + sb.String() + ")"
}

func (s PartialSymbolStack) display(g *StackGraph) string {
	var sb strings.Builder
	for i, e := range s.entries {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(g.SymbolName(e.Symbol))
		if e.Scopes != nil {
			sb.WriteByte('/')
			sb.WriteString(e.Scopes.display(g))
		}
	}
	if s.variable != 0 {
		if len(s.entries) > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "$%d", s.variable)
	}
	return "<" + sb.String() + ">"
}
