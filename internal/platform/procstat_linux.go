//go:build linux

package platform

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sysconf "github.com/tklauser/go-sysconf"
)

// procStat holds the fields of /proc/<pid>/stat the tool needs.
type procStat struct {
	Comm       string
	State      string
	Session    int
	Nice       int
	StartTicks int64
}

// readProcStat parses /proc/<pid>/stat without spawning external processes.
func readProcStat(pid int) (procStat, error) {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return procStat{}, err
	}
	return parseProcStat(string(b))
}

func parseProcStat(line string) (procStat, error) {
	// comm is wrapped in parentheses and may itself contain spaces or ")"
	open := strings.IndexByte(line, '(')
	end := strings.LastIndex(line, ") ")
	if open == -1 || end == -1 || end < open {
		return procStat{}, fmt.Errorf("malformed stat line")
	}
	parts := strings.Fields(line[end+2:])
	// parts[0] is field 3 (state); session is field 6, nice field 19,
	// starttime field 22
	if len(parts) < 20 {
		return procStat{}, fmt.Errorf("short stat line: %d fields", len(parts)+2)
	}
	sid, err := strconv.Atoi(parts[3])
	if err != nil {
		return procStat{}, fmt.Errorf("parse session: %w", err)
	}
	nice, err := strconv.Atoi(parts[16])
	if err != nil {
		return procStat{}, fmt.Errorf("parse nice: %w", err)
	}
	start, err := strconv.ParseInt(parts[19], 10, 64)
	if err != nil {
		return procStat{}, fmt.Errorf("parse starttime: %w", err)
	}
	return procStat{Comm: line[open+1 : end], State: parts[0], Session: sid, Nice: nice, StartTicks: start}, nil
}

// StartTime returns when pid was started, or the zero time when unknown.
func StartTime(pid int) time.Time {
	if pid <= 0 {
		return time.Time{}
	}
	st, err := readProcStat(pid)
	if err != nil || st.StartTicks <= 0 {
		return time.Time{}
	}
	btime := bootTime()
	if btime == 0 {
		return time.Time{}
	}
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	ms := st.StartTicks * 1000 / clk
	return time.Unix(btime, 0).Add(time.Duration(ms) * time.Millisecond)
}

// SessionID returns the session pid belongs to, or 0 when unknown.
func SessionID(pid int) int {
	if pid <= 0 {
		return 0
	}
	st, err := readProcStat(pid)
	if err != nil {
		return 0
	}
	return st.Session
}

func bootTime() int64 {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	for s.Scan() {
		text := s.Text()
		if strings.HasPrefix(text, "btime ") {
			v := strings.TrimSpace(strings.TrimPrefix(text, "btime "))
			if bt, err := strconv.ParseInt(v, 10, 64); err == nil {
				return bt
			}
		}
	}
	return 0
}
