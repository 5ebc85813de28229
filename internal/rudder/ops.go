package rudder

import (
	"fmt"
	"math"
	"math/bits"
)

// This file is the single, shared implementation of rudder's arithmetic
// semantics. Both the interpreter (interp package) and the emitter's
// constant folder call these functions so that §8's "interpret(s) ==
// const_fold(s)" property holds structurally rather than by coincidence of
// two independent implementations agreeing.

// EvalUnary evaluates a UnaryOperation over a folded operand.
func EvalUnary(kind UnaryOperationKind, v Constant) Constant {
	switch v.Kind {
	case ConstFloatingPoint:
		switch kind {
		case UnaryNegate:
			return Float(-v.F, v.Width)
		case UnaryAbsolute:
			return Float(math.Abs(v.F), v.Width)
		case UnaryCeil:
			return Float(math.Ceil(v.F), v.Width)
		case UnaryFloor:
			return Float(math.Floor(v.F), v.Width)
		case UnarySquareRoot:
			return Float(math.Sqrt(v.F), v.Width)
		}
	}
	x := v.Uint64()
	switch kind {
	case UnaryNot:
		return UnsignedInt(boolU64(x == 0), 1)
	case UnaryNegate:
		return signedResult(-int64(x), v)
	case UnaryComplement:
		return UnsignedInt(^x&Mask64(v.Width), v.Width)
	case UnaryPower2:
		// 1<<n, never n*n -- see SPEC_FULL.md's note on the historical bug.
		return UnsignedInt(uint64(1)<<x, v.Width)
	case UnaryAbsolute:
		i := v.Int64()
		if i < 0 {
			i = -i
		}
		return signedResult(i, v)
	default:
		panic(fmt.Sprintf("BUG: unhandled unary op %d for integer operand", kind))
	}
	panic(fmt.Sprintf("BUG: unhandled unary op %d for kind %d", kind, v.Kind))
}

func signedResult(i int64, like Constant) Constant {
	if like.Kind == ConstSignedInteger {
		return SignedInt(i, like.Width)
	}
	return UnsignedInt(uint64(i), like.Width)
}

// EvalBinary evaluates a BinaryOperation over two folded operands of equal
// width (§3: operand types identical except comparisons).
func EvalBinary(kind BinaryOperationKind, lhs, rhs Constant) Constant {
	if lhs.Kind == ConstFloatingPoint || rhs.Kind == ConstFloatingPoint {
		return evalBinaryFloat(kind, lhs, rhs)
	}

	width := lhs.Width
	signed := lhs.Kind == ConstSignedInteger
	a, b := lhs.Uint64(), rhs.Uint64()

	switch kind {
	case BinaryAdd:
		return intResult(a+b, width, signed)
	case BinarySub:
		return intResult(a-b, width, signed)
	case BinaryMultiply:
		return intResult(a*b, width, signed)
	case BinaryDivide:
		if signed {
			return SignedInt(lhs.Int64()/rhs.Int64(), width)
		}
		return UnsignedInt(a/b, width)
	case BinaryModulo:
		if signed {
			return SignedInt(lhs.Int64()%rhs.Int64(), width)
		}
		return UnsignedInt(a%b, width)
	case BinaryAnd:
		return intResult(a&b, width, signed)
	case BinaryOr:
		return intResult(a|b, width, signed)
	case BinaryXor:
		return intResult(a^b, width, signed)
	case BinaryPowI:
		r := uint64(1)
		for i := uint64(0); i < b; i++ {
			r *= a
		}
		return intResult(r, width, signed)
	case BinaryCompareEqual:
		return UnsignedInt(boolU64(a == b), 1)
	case BinaryCompareNotEqual:
		return UnsignedInt(boolU64(a != b), 1)
	case BinaryCompareLessThan:
		if signed {
			return UnsignedInt(boolU64(lhs.Int64() < rhs.Int64()), 1)
		}
		return UnsignedInt(boolU64(a < b), 1)
	case BinaryCompareLessThanOrEqual:
		if signed {
			return UnsignedInt(boolU64(lhs.Int64() <= rhs.Int64()), 1)
		}
		return UnsignedInt(boolU64(a <= b), 1)
	case BinaryCompareGreaterThan:
		if signed {
			return UnsignedInt(boolU64(lhs.Int64() > rhs.Int64()), 1)
		}
		return UnsignedInt(boolU64(a > b), 1)
	case BinaryCompareGreaterThanOrEqual:
		if signed {
			return UnsignedInt(boolU64(lhs.Int64() >= rhs.Int64()), 1)
		}
		return UnsignedInt(boolU64(a >= b), 1)
	default:
		panic(fmt.Sprintf("BUG: unhandled binary op %d", kind))
	}
}

func evalBinaryFloat(kind BinaryOperationKind, lhs, rhs Constant) Constant {
	a, b := lhs.F, rhs.F
	width := lhs.Width
	switch kind {
	case BinaryAdd:
		return Float(a+b, width)
	case BinarySub:
		return Float(a-b, width)
	case BinaryMultiply:
		return Float(a*b, width)
	case BinaryDivide:
		return Float(a/b, width)
	case BinaryCompareEqual:
		return UnsignedInt(boolU64(floatBitsEqual(a, b)), 1)
	case BinaryCompareNotEqual:
		return UnsignedInt(boolU64(!floatBitsEqual(a, b)), 1)
	case BinaryCompareLessThan:
		return UnsignedInt(boolU64(a < b), 1)
	case BinaryCompareLessThanOrEqual:
		return UnsignedInt(boolU64(a <= b), 1)
	case BinaryCompareGreaterThan:
		return UnsignedInt(boolU64(a > b), 1)
	case BinaryCompareGreaterThanOrEqual:
		return UnsignedInt(boolU64(a >= b), 1)
	default:
		panic(fmt.Sprintf("BUG: unhandled float binary op %d", kind))
	}
}

func intResult(v uint64, width uint16, signed bool) Constant {
	if signed {
		return SignedInt(int64(v), width)
	}
	return UnsignedInt(v, width)
}

// EvalAddWithCarry implements §8's quantified AddWithCarry invariant:
// generated NZCV equals (sign(sum), sum==0, unsigned_overflow,
// signed_overflow) packed N:Z:C:V from bit 3 down to bit 0. width must be
// in 1..=64 -- AArch64 only ever uses this at 32 or 64 bits, and a wider
// operand is a programming error in the caller (the specialized builtin
// lowering in translate/builtins.go), not a guest-runtime fault.
func EvalAddWithCarry(x, y, carryIn Constant) (sum, nzcv Constant) {
	width := x.Width
	if width == 0 || width > 64 {
		panic(fmt.Sprintf("BUG: AddWithCarry width %d out of range 1..=64", width))
	}
	mask := Mask64(width)
	xa, ya := x.Uint64()&mask, y.Uint64()&mask
	ci := carryIn.Uint64() & 1

	sum64, carryOut64 := bits.Add64(xa, ya, ci)
	sumVal := sum64 & mask

	var carryOut uint64
	if width == 64 {
		carryOut = carryOut64
	} else {
		carryOut = boolU64(sum64 > mask)
	}

	signBit := uint64(1) << (width - 1)
	n := boolU64(sumVal&signBit != 0)
	z := boolU64(sumVal == 0)
	xSign, ySign, sSign := xa&signBit != 0, ya&signBit != 0, sumVal&signBit != 0
	v := boolU64(xSign == ySign && sSign != xSign)

	nzcvVal := n<<3 | z<<2 | carryOut<<1 | v
	return UnsignedInt(sumVal, width), UnsignedInt(nzcvVal, 4)
}

// EvalShift implements §4.1's shift constant-folding, including explicit
// over-shift semantics: logical shifts of >= width return 0 (left) or 0
// (right); arithmetic right shift of a signed value sign-fills regardless
// of shift amount.
func EvalShift(kind ShiftOperationKind, value, amount Constant) Constant {
	width := value.Width
	amt := amount.Uint64()
	switch kind {
	case ShiftLogicalLeft:
		if amt >= uint64(width) {
			return UnsignedInt(0, width)
		}
		return intResult(value.Uint64()<<amt, width, value.Kind == ConstSignedInteger)
	case ShiftLogicalRight:
		if amt >= uint64(width) {
			return UnsignedInt(0, width)
		}
		return intResult(value.Uint64()>>amt, width, value.Kind == ConstSignedInteger)
	case ShiftArithmeticRight:
		i := value.Int64()
		if amt >= uint64(width) {
			if i < 0 {
				return SignedInt(-1, width)
			}
			return SignedInt(0, width)
		}
		// sign-extend to 64 bits first so Go's native >> sign-fills, then
		// re-mask to width.
		return SignedInt(i>>amt, width)
	case ShiftRotateRight:
		return UnsignedInt(bits.RotateLeft64(value.Uint64()&Mask64(width), -int(amt%uint64(width)))&Mask64(width), width)
	case ShiftRotateLeft:
		return UnsignedInt(bits.RotateLeft64(value.Uint64()&Mask64(width), int(amt%uint64(width)))&Mask64(width), width)
	default:
		panic(fmt.Sprintf("BUG: unhandled shift op %d", kind))
	}
}

// EvalCast implements §3's cast kinds. target is the destination type.
func EvalCast(kind CastOperationKind, value Constant, target Type) Constant {
	switch kind {
	case CastZeroExtend:
		return UnsignedInt(value.Uint64()&Mask64(value.Width), target.Width)
	case CastSignExtend:
		return SignedInt(value.Int64(), target.Width)
	case CastTruncate:
		if target.Equal(value.Type()) {
			return value
		}
		if target.Kind == KindSigned {
			return SignedInt(int64(value.Uint64()&Mask64(target.Width)), target.Width)
		}
		return UnsignedInt(value.Uint64()&Mask64(target.Width), target.Width)
	case CastReinterpret:
		if target.Equal(value.Type()) {
			return value
		}
		switch target.Kind {
		case KindSigned:
			return SignedInt(value.Int64(), target.Width)
		case KindUnsigned, KindBits:
			return UnsignedInt(value.Uint64()&Mask64(target.Width), target.Width)
		case KindFloating:
			if target.Width == 64 {
				return Float(math.Float64frombits(value.Uint64()), 64)
			}
			return Float(float64(math.Float32frombits(uint32(value.Uint64()))), 32)
		default:
			panic(fmt.Sprintf("BUG: unsupported reinterpret target %v", target))
		}
	case CastConvert:
		switch {
		case value.Kind == ConstFloatingPoint && target.Kind == KindFloating:
			return Float(value.F, target.Width)
		case value.Kind == ConstFloatingPoint:
			return intResult(uint64(int64(value.F)), target.Width, target.Kind == KindSigned)
		case target.Kind == KindFloating:
			if value.Kind == ConstSignedInteger {
				return Float(float64(value.Int64()), target.Width)
			}
			return Float(float64(value.Uint64()), target.Width)
		default:
			return intResult(value.Uint64(), target.Width, target.Kind == KindSigned)
		}
	case CastBroadcast:
		n := target.ElemCount
		elems := make([]Constant, n)
		for i := range elems {
			elems[i] = value
		}
		return MakeVector(elems...)
	default:
		panic(fmt.Sprintf("BUG: unhandled cast kind %d", kind))
	}
}
