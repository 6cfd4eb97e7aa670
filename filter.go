package canif

// Filter is one kernel acceptance filter entry: a frame matches when
// received_id & Mask == ID & Mask.
type Filter struct {
	ID   uint32
	Mask uint32
}

// InvFilterFlag inverts a filter entry when set in its ID (CAN_INV_FILTER).
const InvFilterFlag = 0x20000000

// StdFilter matches a single standard (11 bit) identifier.
func StdFilter(id uint32) Filter {
	return Filter{ID: id & SFFMask, Mask: SFFMask}
}

// ExtFilter matches a single extended (29 bit) identifier.
func ExtFilter(id uint32) Filter {
	return Filter{ID: (id & EFFMask) | EFFFlag, Mask: EFFMask | EFFFlag}
}

// RangeFilter matches the identifiers covered by base with the given mask.
func RangeFilter(base, mask uint32) Filter {
	return Filter{ID: base, Mask: mask}
}

// Invert returns the filter with matching inverted.
func (f Filter) Invert() Filter {
	f.ID |= InvFilterFlag
	return f
}
