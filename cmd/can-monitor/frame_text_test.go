package main

import (
	"testing"

	canif "github.com/kstaniek/go-canif"
)

func TestParseTextFrame(t *testing.T) {
	f, err := parseTextFrame("123#DEADBEEF")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.ID != 0x123 || f.Len != 4 || f.Data[0] != 0xDE || f.Data[3] != 0xEF {
		t.Errorf("frame = %+v", f)
	}

	f, err = parseTextFrame("1FFFFFFF#01")
	if err != nil {
		t.Fatalf("parse ext: %v", err)
	}
	if f.ID&canif.EFFFlag == 0 || f.ID&canif.EFFMask != 0x1FFFFFFF {
		t.Errorf("extended id = %#x", f.ID)
	}

	f, err = parseTextFrame("321#R")
	if err != nil {
		t.Fatalf("parse rtr: %v", err)
	}
	if f.ID&canif.RTRFlag == 0 || f.Len != 0 {
		t.Errorf("rtr frame = %+v", f)
	}

	for _, bad := range []string{"123", "xyz#00", "123#0", "123#" + string(make([]byte, 200))} {
		if _, err := parseTextFrame(bad); err == nil {
			t.Errorf("parse %q succeeded", bad)
		}
	}
}

func TestFormatFrame(t *testing.T) {
	f := canif.Frame{ID: 0x123, Len: 2}
	f.Data[0], f.Data[1] = 0xAB, 0xCD
	if got := formatFrame("can0", &f); got != "can0  123  [2]  AB CD" {
		t.Errorf("formatFrame = %q", got)
	}
	f = canif.Frame{ID: 0x1FFFFFFF | canif.EFFFlag | canif.RTRFlag, Len: 0}
	if got := formatFrame("can0", &f); got != "can0  1FFFFFFF  [0]  remote request" {
		t.Errorf("formatFrame ext rtr = %q", got)
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	f, err := parseTextFrame("7FF#0011223344556677")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := formatFrame("vcan0", &f); got != "vcan0  7FF  [8]  00 11 22 33 44 55 66 77" {
		t.Errorf("round trip = %q", got)
	}
}
