package portscan

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const lsofTimeout = 5 * time.Second

// listener is one parsed lsof row before correlation.
type listener struct {
	Command  string
	PID      int32
	Protocol string
	Address  string
	Port     int
}

// enumerateOS lists listening TCP sockets via lsof. A missing or failing
// lsof yields an error; callers degrade to an empty port map.
func enumerateOS(ctx context.Context) ([]listener, error) {
	ctx, cancel := context.WithTimeout(ctx, lsofTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "lsof", "-nP", "-iTCP", "-sTCP:LISTEN").Output()
	if err != nil {
		return nil, err
	}
	return parseLsof(string(out)), nil
}

// parseLsof extracts listeners from lsof's tabular output. Rows that do
// not parse are skipped; lsof pads names with spaces so fields are split
// on any whitespace run.
func parseLsof(out string) []listener {
	var listeners []listener
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 9 || fields[0] == "COMMAND" {
			continue
		}
		pid, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil {
			continue
		}
		addr, port, ok := splitHostPort(fields[8])
		if !ok {
			continue
		}
		listeners = append(listeners, listener{
			Command:  fields[0],
			PID:      int32(pid),
			Protocol: protocolFor(fields[4]),
			Address:  addr,
			Port:     port,
		})
	}
	return listeners
}

// splitHostPort splits lsof's NAME column ("127.0.0.1:3000", "*:8080",
// "[::1]:9000") into address and numeric port.
func splitHostPort(name string) (string, int, bool) {
	idx := strings.LastIndex(name, ":")
	if idx < 0 {
		return "", 0, false
	}
	port, err := strconv.Atoi(name[idx+1:])
	if err != nil || port < 1 || port > 65535 {
		return "", 0, false
	}
	addr := strings.Trim(name[:idx], "[]")
	return addr, port, true
}

func protocolFor(lsofType string) string {
	if lsofType == "IPv6" {
		return "tcp6"
	}
	return "tcp4"
}
