// Command i2csim-harness drives the simulated I²C bus from a scenario
// script: a newline-separated list of commands naming the controller
// operations the scenario package's tests exercise programmatically.
//
// Commands:
//
//	read ADDR REG N          read N bytes starting at register REG
//	write ADDR REG OCTET...  write the given octets starting at register REG
//	recover                  issue a bus-recovery sequence
//	stretch-read ADDR REG    read one byte from the clock-stretching target
//
// ADDR, REG and OCTET are hexadecimal, without a "0x" prefix.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/google/shlex"

	"go.uber.org/zap/zapcore"

	"i2csim/i2clog"
	"i2csim/internal/scenario"
	"i2csim/trace"
)

func main() {
	scriptPath := flag.String("script", "", "path to a scenario script; defaults to stdin")
	verbose := flag.Bool("v", false, "enable debug logging")
	traceLines := flag.Bool("trace", false, "print every SDA/SCL transition as it happens")
	flag.Parse()

	if *verbose {
		i2clog.SetLevel(zapcore.DebugLevel)
	}

	in := os.Stdin
	if *scriptPath != "" {
		f, err := os.Open(*scriptPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "i2csim-harness:", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	h := scenario.New()
	defer h.Close()

	if *traceLines {
		stop := startTrace(h)
		defer stop()
	}

	if err := run(h, in); err != nil {
		fmt.Fprintln(os.Stderr, "i2csim-harness:", err)
		os.Exit(1)
	}
}

// startTrace subscribes to every node's SDA and SCL topics and prints
// each transition as it arrives. The returned func stops the printer.
func startTrace(h *scenario.Harness) (stop func()) {
	router := trace.NewRouter(64)
	conn := router.NewConnection()
	h.Trace(conn)

	names := []string{h.Controller.Name()}
	for _, t := range h.Targets {
		names = append(names, t.Name())
	}

	done := make(chan struct{})
	subs := make([]*trace.Subscription, 0, len(names)*2)
	for _, name := range names {
		for _, line := range []string{"SDA", "SCL"} {
			sub := conn.Subscribe(trace.Topic{trace.S(name), trace.S(line)})
			subs = append(subs, sub)
			go func(name, line string, ch <-chan *trace.Message) {
				for {
					select {
					case msg, ok := <-ch:
						if !ok {
							return
						}
						fmt.Printf("trace: %s.%s = %v\n", name, line, msg.Payload)
					case <-done:
						return
					}
				}
			}(name, line, sub.Channel())
		}
	}

	return func() {
		close(done)
		conn.Disconnect()
	}
}

func run(h *scenario.Harness, in *os.File) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		fields, err := shlex.Split(line)
		if err != nil {
			return fmt.Errorf("tokenizing %q: %w", line, err)
		}
		if len(fields) == 0 {
			continue
		}

		if err := dispatch(h, fields); err != nil {
			return fmt.Errorf("%q: %w", line, err)
		}
	}
	return scanner.Err()
}

func dispatch(h *scenario.Harness, fields []string) error {
	switch fields[0] {
	case "read":
		return doRead(h, fields[1:])
	case "stretch-read":
		if len(fields) != 3 {
			return fmt.Errorf("stretch-read ADDR REG: want 2 arguments, got %d", len(fields)-1)
		}
		return doRead(h, []string{fields[1], fields[2], "1"})
	case "write":
		return doWrite(h, fields[1:])
	case "recover":
		h.Controller.Recover()
		return nil
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func doRead(h *scenario.Harness, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("read ADDR REG N: want 3 arguments, got %d", len(args))
	}
	addr, err := parseByte(args[0])
	if err != nil {
		return err
	}
	reg, err := parseByte(args[1])
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("parsing count %q: %w", args[2], err)
	}

	data, nack := h.Controller.ReadRegister(addr, reg, n)
	if nack {
		fmt.Printf("read %#x[%#x]: NACK\n", addr, reg)
		return nil
	}
	fmt.Printf("read %#x[%#x]:", addr, reg)
	for _, b := range data {
		fmt.Printf(" %s", i2clog.Octet(b))
	}
	fmt.Println()
	return nil
}

func doWrite(h *scenario.Harness, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("write ADDR REG OCTET...: want at least 2 arguments, got %d", len(args))
	}
	addr, err := parseByte(args[0])
	if err != nil {
		return err
	}
	reg, err := parseByte(args[1])
	if err != nil {
		return err
	}

	data := make([]byte, len(args)-2)
	for i, a := range args[2:] {
		b, err := parseByte(a)
		if err != nil {
			return err
		}
		data[i] = b
	}

	if nack := h.Controller.WriteRegister(addr, reg, data); nack {
		fmt.Printf("write %#x[%#x]: NACK\n", addr, reg)
		return nil
	}
	fmt.Printf("write %#x[%#x]: ok\n", addr, reg)
	return nil
}

func parseByte(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("parsing %q as hex byte: %w", s, err)
	}
	return uint8(v), nil
}
