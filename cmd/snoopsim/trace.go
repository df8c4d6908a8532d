package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sarchlab/snoopsim/platform"
)

// loadTrace schedules the accesses of a trace file onto the agents. Each
// line is `<core> R <addr> <bytes> <cycle>` or
// `<core> W <addr> <hex-data> <cycle>`.
func loadTrace(p *platform.Platform, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		err = parseTraceLine(p, line)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
	}

	return scanner.Err()
}

func parseTraceLine(p *platform.Platform, line string) error {
	fields := strings.Fields(line)
	if len(fields) != 5 {
		return fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	core, err := strconv.Atoi(fields[0])
	if err != nil || core < 0 || core >= len(p.Agents) {
		return fmt.Errorf("invalid core %q", fields[0])
	}

	addr, err := strconv.ParseUint(
		strings.TrimPrefix(fields[2], "0x"), 16, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q", fields[2])
	}

	atCycle, err := strconv.Atoi(fields[4])
	if err != nil {
		return fmt.Errorf("invalid cycle %q", fields[4])
	}

	switch strings.ToUpper(fields[1]) {
	case "R":
		size, sizeErr := strconv.ParseUint(fields[3], 10, 64)
		if sizeErr != nil {
			return fmt.Errorf("invalid read size %q", fields[3])
		}
		p.Agents[core].AddRead(cycle(atCycle), addr, size)
	case "W":
		data, dataErr := hex.DecodeString(fields[3])
		if dataErr != nil {
			return fmt.Errorf("invalid write data %q", fields[3])
		}
		p.Agents[core].AddWrite(cycle(atCycle), addr, data)
	default:
		return fmt.Errorf("unknown operation %q", fields[1])
	}

	return nil
}
