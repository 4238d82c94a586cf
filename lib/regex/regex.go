package regex

import (
	"regexp/syntax"
)

// UsrJudge is the three-valued judgment surface the regex iterator consumes.
// Possible answers "could any key consistent with this USR match", Match
// decides an exactly known key.
type UsrJudge interface {
	Possible(u *USR) bool
	Match(u *USR) bool
}

// R is a compiled whole-key regular expression.
type R struct {
	expr  string
	prog  *syntax.Prog
	reach []bool // pc -> a Match instruction is reachable from here
}

// Compile parses expr (RE2 syntax) and prepares it for three-valued
// evaluation. The expression matches the entire key.
func Compile(expr string) (*R, error) {
	re, err := syntax.Parse(expr, syntax.Perl|syntax.DotNL)
	if err != nil {
		return nil, err
	}
	prog, err := syntax.Compile(re.Simplify())
	if err != nil {
		return nil, err
	}
	r := &R{expr: expr, prog: prog}
	r.reach = reachability(prog)
	return r, nil
}

// MustCompile is Compile that panics on error, for fixed patterns.
func MustCompile(expr string) *R {
	r, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *R) String() string {
	return r.expr
}

// reachability computes, per instruction, whether a Match instruction is
// reachable through any sequence of transitions.
func reachability(prog *syntax.Prog) []bool {
	n := len(prog.Inst)
	reach := make([]bool, n)
	// fixpoint; programs are tiny, iteration count is bounded by depth
	for changed := true; changed; {
		changed = false
		for pc := 0; pc < n; pc++ {
			if reach[pc] {
				continue
			}
			inst := &prog.Inst[pc]
			ok := false
			switch inst.Op {
			case syntax.InstMatch:
				ok = true
			case syntax.InstAlt, syntax.InstAltMatch:
				ok = reach[inst.Out] || reach[inst.Arg]
			case syntax.InstFail:
				ok = false
			default:
				ok = reach[inst.Out]
			}
			if ok {
				reach[pc] = true
				changed = true
			}
		}
	}
	return reach
}

// --------------------------------------------------------------------------
// NFA simulation over tri-valued bytes
// --------------------------------------------------------------------------

// stepCtx carries the position context needed to decide empty-width
// assertions. liberal mode (Possible) passes every assertion it cannot
// refute; strict mode (Match) evaluates them exactly.
type stepCtx struct {
	pos     int
	length  int // -1 when unknown
	liberal bool
	prev    rune // -1 at text start / unknown
	next    rune // -1 at text end / unknown
}

func (c stepCtx) emptyOK(op syntax.EmptyOp) bool {
	if op&syntax.EmptyBeginText != 0 && c.pos != 0 {
		return false
	}
	if c.liberal {
		// end-of-text, line and word assertions depend on bytes we may not
		// know; never refute them here
		return true
	}
	if op&syntax.EmptyEndText != 0 && c.pos != c.length {
		return false
	}
	if op&syntax.EmptyBeginLine != 0 && !(c.pos == 0 || c.prev == '\n') {
		return false
	}
	if op&syntax.EmptyEndLine != 0 && !(c.pos == c.length || c.next == '\n') {
		return false
	}
	if op&syntax.EmptyWordBoundary != 0 && isWordChar(c.prev) == isWordChar(c.next) {
		return false
	}
	if op&syntax.EmptyNoWordBoundary != 0 && isWordChar(c.prev) != isWordChar(c.next) {
		return false
	}
	return true
}

func isWordChar(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// addState inserts pc and everything reachable through empty transitions.
func (r *R) addState(set []bool, pc uint32, ctx stepCtx) {
	if set[pc] {
		return
	}
	set[pc] = true
	inst := &r.prog.Inst[pc]
	switch inst.Op {
	case syntax.InstAlt, syntax.InstAltMatch:
		r.addState(set, inst.Out, ctx)
		r.addState(set, inst.Arg, ctx)
	case syntax.InstCapture, syntax.InstNop:
		r.addState(set, inst.Out, ctx)
	case syntax.InstEmptyWidth:
		if ctx.emptyOK(syntax.EmptyOp(inst.Arg)) {
			r.addState(set, inst.Out, ctx)
		}
	}
}

func (r *R) hasMatch(set []bool) bool {
	for pc, on := range set {
		if on && r.prog.Inst[pc].Op == syntax.InstMatch {
			return true
		}
	}
	return false
}

func (r *R) anyReachable(set []bool) bool {
	for pc, on := range set {
		if on && r.reach[pc] {
			return true
		}
	}
	return false
}

// byteMatches reports whether a byte-consuming instruction accepts b.
func byteMatches(inst *syntax.Inst, b byte) bool {
	switch inst.Op {
	case syntax.InstRune, syntax.InstRune1, syntax.InstRuneAny, syntax.InstRuneAnyNotNL:
		return inst.MatchRune(rune(b))
	}
	return false
}

func isRuneInst(inst *syntax.Inst) bool {
	switch inst.Op {
	case syntax.InstRune, syntax.InstRune1, syntax.InstRuneAny, syntax.InstRuneAnyNotNL:
		return true
	}
	return false
}

// --------------------------------------------------------------------------
// Judgments
// --------------------------------------------------------------------------

// Possible reports whether some key consistent with u could match. It only
// returns false when every completion of u is refuted, so pruning on it is
// sound.
func (r *R) Possible(u *USR) bool {
	if u.Exact() {
		return r.Match(u)
	}

	n := u.Size()
	cur := make([]bool, len(r.prog.Inst))
	r.addState(cur, uint32(r.prog.Start), stepCtx{pos: 0, length: -1, liberal: true})

	for i := 0; i < n; i++ {
		// the key could end before byte i and match with what was consumed
		if u.CanEndAt(i) && r.hasMatch(cur) {
			return true
		}

		next := make([]bool, len(r.prog.Inst))
		for pc, on := range cur {
			if !on {
				continue
			}
			inst := &r.prog.Inst[pc]
			if !isRuneInst(inst) {
				continue
			}
			for b := 0; b < 256; b++ {
				if u.CouldBeByte(i, byte(b)) && byteMatches(inst, byte(b)) {
					r.addState(next, inst.Out, stepCtx{pos: i + 1, length: -1, liberal: true})
					break
				}
			}
		}
		cur = next
		if !anyOn(cur) {
			return false
		}
	}

	// all known bytes consumed: a key of exactly n bytes matches if we are
	// in a match state, a longer key might still reach one
	return r.hasMatch(cur) || r.anyReachable(cur)
}

// Match decides an exactly known key.
func (r *R) Match(u *USR) bool {
	key := u.Bytes()
	length := len(key)

	cur := make([]bool, len(r.prog.Inst))
	r.addState(cur, uint32(r.prog.Start), r.strictCtx(key, 0))

	for i := 0; i < length; i++ {
		b := key[i]
		next := make([]bool, len(r.prog.Inst))
		for pc, on := range cur {
			if !on {
				continue
			}
			inst := &r.prog.Inst[pc]
			if isRuneInst(inst) && byteMatches(inst, b) {
				r.addState(next, inst.Out, r.strictCtx(key, i+1))
			}
		}
		cur = next
		if !anyOn(cur) {
			return false
		}
	}
	return r.hasMatch(cur)
}

func (r *R) strictCtx(key []byte, pos int) stepCtx {
	ctx := stepCtx{pos: pos, length: len(key), prev: -1, next: -1}
	if pos > 0 {
		ctx.prev = rune(key[pos-1])
	}
	if pos < len(key) {
		ctx.next = rune(key[pos])
	}
	return ctx
}

func anyOn(set []bool) bool {
	for _, on := range set {
		if on {
			return true
		}
	}
	return false
}
