package main

import (
	"fmt"
	"strconv"
	"strings"

	canif "github.com/kstaniek/go-canif"
)

// formatFrame renders a frame candump-style:
//
//	can0  123  [4]  DE AD BE EF
//	can0  1FFFFFFF  [0]  remote request
func formatFrame(src string, f *canif.Frame) string {
	var b strings.Builder
	if f.ID&canif.EFFFlag != 0 {
		fmt.Fprintf(&b, "%s  %08X", src, f.ID&canif.EFFMask)
	} else {
		fmt.Fprintf(&b, "%s  %03X", src, f.ID&canif.SFFMask)
	}
	fmt.Fprintf(&b, "  [%d] ", f.Len)
	if f.ID&canif.RTRFlag != 0 {
		b.WriteString(" remote request")
		return b.String()
	}
	for _, d := range f.Data[:f.Len] {
		fmt.Fprintf(&b, " %02X", d)
	}
	return b.String()
}

// parseTextFrame parses the cansend-style "ID#HEXDATA" notation. An ID
// longer than 3 hex digits or above the standard range becomes an
// extended identifier; "#R" marks a remote request.
func parseTextFrame(s string) (canif.Frame, error) {
	var f canif.Frame
	idStr, dataStr, ok := strings.Cut(strings.TrimSpace(s), "#")
	if !ok {
		return f, fmt.Errorf("frame %q: want ID#HEXDATA", s)
	}
	id, err := strconv.ParseUint(idStr, 16, 32)
	if err != nil {
		return f, fmt.Errorf("frame id %q: %v", idStr, err)
	}
	f.ID = uint32(id)
	if len(idStr) > 3 || f.ID > canif.SFFMask {
		f.ID = (f.ID & canif.EFFMask) | canif.EFFFlag
	}
	if strings.EqualFold(dataStr, "R") {
		f.ID |= canif.RTRFlag
		return f, nil
	}
	if len(dataStr)%2 != 0 {
		return f, fmt.Errorf("frame data %q: odd hex digit count", dataStr)
	}
	n := len(dataStr) / 2
	if n > 64 {
		return f, fmt.Errorf("frame data: %d bytes exceeds 64", n)
	}
	for i := 0; i < n; i++ {
		v, err := strconv.ParseUint(dataStr[2*i:2*i+2], 16, 8)
		if err != nil {
			return f, fmt.Errorf("frame data %q: %v", dataStr, err)
		}
		f.Data[i] = byte(v)
	}
	f.Len = uint8(n)
	return f, nil
}
