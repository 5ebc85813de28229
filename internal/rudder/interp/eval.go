package interp

import "github.com/avisi-group/borg-sub001/internal/rudder"

func (in *Interpreter) evalUnary(s *rudder.Statement) rudder.Constant {
	return rudder.EvalUnary(s.UnaryKind, in.resolve(s.A))
}

func (in *Interpreter) evalBinary(s *rudder.Statement) rudder.Constant {
	return rudder.EvalBinary(s.BinaryKind, in.resolve(s.A), in.resolve(s.B))
}

func (in *Interpreter) evalTernary(s *rudder.Statement) rudder.Constant {
	switch s.TernaryKind {
	case rudder.TernaryAddWithCarry:
		sum, nzcv := rudder.EvalAddWithCarry(in.resolve(s.A), in.resolve(s.B), in.resolve(s.C))
		return rudder.MakeTuple(sum, nzcv)
	default:
		panic("BUG: unhandled ternary op")
	}
}

func (in *Interpreter) evalShift(s *rudder.Statement) rudder.Constant {
	return rudder.EvalShift(s.ShiftKind, in.resolve(s.A), in.resolve(s.B))
}

func (in *Interpreter) evalCast(s *rudder.Statement) rudder.Constant {
	return rudder.EvalCast(s.CastKind, in.resolve(s.A), s.Typ)
}
