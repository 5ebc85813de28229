package rudder

// ExtractBits returns the length-bit field of value starting at bit start,
// masked to length bits (the shared semantics behind the
// StmtBitExtract statement, the emitter's constant folding, and the x86
// backend's bextr lowering -- §4.2/§4.3.1).
func ExtractBits(value uint64, start, length uint8) uint64 {
	if length == 0 {
		return 0
	}
	shifted := value >> start
	if length >= 64 {
		return shifted
	}
	return shifted & ((uint64(1) << length) - 1)
}

// InsertBits returns target with its [start, start+length) bit range
// replaced by the low length bits of source (StmtBitInsert / §4.2's
// mask-clear-shift-or lowering).
func InsertBits(target, source uint64, start, length uint8) uint64 {
	if length == 0 {
		return target
	}
	var mask uint64
	if length >= 64 {
		mask = ^uint64(0)
	} else {
		mask = (uint64(1) << length) - 1
	}
	mask <<= start
	cleared := target &^ mask
	inserted := (source << start) & mask
	return cleared | inserted
}

// ReplicateBits repeats the low unitWidth bits of value until totalWidth
// bits are filled (StmtBitReplicate), truncating the final repetition.
func ReplicateBits(value uint64, unitWidth, totalWidth uint8) uint64 {
	if unitWidth == 0 {
		return 0
	}
	unit := ExtractBits(value, 0, unitWidth)
	var out uint64
	var filled uint8
	for filled < totalWidth {
		out |= unit << filled
		filled += unitWidth
	}
	return ExtractBits(out, 0, totalWidth)
}
