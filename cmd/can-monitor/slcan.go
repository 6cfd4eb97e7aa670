package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/tarm/serial"

	canif "github.com/kstaniek/go-canif"
	"github.com/kstaniek/go-canif/internal/metrics"
	"github.com/kstaniek/go-canif/internal/transport"
)

const slcanTxQueue = 1024

// openSerialPort is a hook for tests.
var openSerialPort = func(name string, baud int) (*serial.Port, error) {
	return serial.OpenPort(&serial.Config{Name: name, Baud: baud})
}

// slcanBitrateCode maps a nominal bit rate to the SLCAN 'S' setup index.
func slcanBitrateCode(bitrate uint) (byte, error) {
	switch bitrate {
	case 10_000:
		return '0', nil
	case 20_000:
		return '1', nil
	case 50_000:
		return '2', nil
	case 100_000:
		return '3', nil
	case 125_000:
		return '4', nil
	case 250_000:
		return '5', nil
	case 500_000:
		return '6', nil
	case 800_000:
		return '7', nil
	case 1_000_000:
		return '8', nil
	}
	return 0, fmt.Errorf("bitrate %d not representable in slcan", bitrate)
}

// encodeSLCAN renders one classic frame as an SLCAN command:
// t<iii><l><dd...> for standard ids, T<iiiiiiii><l><dd...> for extended,
// r/R for remote requests.
func encodeSLCAN(f canif.Frame) []byte {
	var cmd byte
	var idDigits int
	if f.ID&canif.EFFFlag != 0 {
		cmd, idDigits = 'T', 8
	} else {
		cmd, idDigits = 't', 3
	}
	if f.ID&canif.RTRFlag != 0 {
		cmd = cmd - 't' + 'r' // t->r, T->R
	}
	dlc := f.Len
	if dlc > 8 {
		dlc = 8
	}
	id := f.ID & canif.EFFMask
	out := make([]byte, 0, 1+idDigits+1+2*int(dlc)+1)
	out = append(out, cmd)
	out = append(out, fmt.Sprintf("%0*X", idDigits, id)...)
	out = append(out, '0'+dlc)
	if f.ID&canif.RTRFlag == 0 {
		for _, d := range f.Data[:dlc] {
			out = append(out, fmt.Sprintf("%02X", d)...)
		}
	}
	return append(out, '\r')
}

// decodeSLCAN parses one SLCAN line into a frame. Non-frame responses
// (version strings, status flags, bare ACKs) report ok=false.
func decodeSLCAN(line string) (canif.Frame, bool) {
	var f canif.Frame
	if len(line) < 5 {
		return f, false
	}
	cmd := line[0]
	var idDigits int
	switch cmd {
	case 't', 'r':
		idDigits = 3
	case 'T', 'R':
		idDigits = 8
	default:
		return f, false
	}
	if len(line) < 1+idDigits+1 {
		return f, false
	}
	id, err := strconv.ParseUint(line[1:1+idDigits], 16, 32)
	if err != nil {
		return f, false
	}
	f.ID = uint32(id)
	if idDigits == 8 {
		f.ID = (f.ID & canif.EFFMask) | canif.EFFFlag
	}
	if cmd == 'r' || cmd == 'R' {
		f.ID |= canif.RTRFlag
	}
	dlc := int(line[1+idDigits] - '0')
	if dlc < 0 || dlc > 8 {
		return f, false
	}
	f.Len = uint8(dlc)
	if cmd == 't' || cmd == 'T' {
		if len(line) < 1+idDigits+1+2*dlc {
			return f, false
		}
		for i := 0; i < dlc; i++ {
			v, err := strconv.ParseUint(line[1+idDigits+1+2*i:1+idDigits+3+2*i], 16, 8)
			if err != nil {
				return f, false
			}
			f.Data[i] = byte(v)
		}
	}
	return f, true
}

// initSLCANBackend opens the SLCAN adapter, starts its RX loop feeding
// sink, and returns a frame sender plus cleanup.
func initSLCANBackend(ctx context.Context, cfg *appConfig, sink func(canif.Frame), l *slog.Logger, wg *sync.WaitGroup) (func(canif.Frame) error, func(), error) {
	port, err := openSerialPort(cfg.serialDev, cfg.baud)
	if err != nil {
		return nil, func() {}, fmt.Errorf("slcan open %s: %w", cfg.serialDev, err)
	}
	l.Info("slcan_open", "dev", cfg.serialDev, "baud", cfg.baud)

	// Close any stale channel, then set the bit rate and open it.
	setup := []byte("C\r")
	if cfg.bitrate > 0 {
		code, err := slcanBitrateCode(cfg.bitrate)
		if err != nil {
			_ = port.Close()
			return nil, func() {}, err
		}
		setup = append(setup, 'S', code, '\r')
	}
	setup = append(setup, "O\r"...)
	if _, err := port.Write(setup); err != nil {
		_ = port.Close()
		return nil, func() {}, fmt.Errorf("slcan setup: %w", err)
	}

	tw := transport.New(ctx, slcanTxQueue, func(fr canif.Frame) error {
		_, err := port.Write(encodeSLCAN(fr))
		return err
	}, transport.Hooks{
		OnError: func(err error) { metrics.IncError(metrics.ErrSerialWrite) },
		OnAfter: metrics.IncTxFrames,
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("slcan_rx_end")
		sc := bufio.NewScanner(port)
		sc.Split(scanCR)
		for sc.Scan() {
			if ctx.Err() != nil {
				return
			}
			fr, ok := decodeSLCAN(sc.Text())
			if !ok {
				continue
			}
			metrics.IncRxFrames()
			sink(fr)
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			metrics.IncError(metrics.ErrSerialRead)
			l.Error("slcan_read_error", "error", err)
		}
	}()

	cleanup := func() {
		_, _ = port.Write([]byte("C\r"))
		_ = port.Close()
		tw.Close()
	}
	return tw.SendFrame, cleanup, nil
}

// scanCR splits on carriage returns, the SLCAN line terminator, and also
// tolerates the BELL byte some adapters send as an error marker.
func scanCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\r' || b == '\n' || b == 0x07 {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
