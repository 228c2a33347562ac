package system

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var ErrNoMatch = errors.New("no matching files")

// HostInfo is a snapshot of the machine the pipeline runs on.
type HostInfo struct {
	LogicalCPUs  int
	PhysicalCPUs int
	TotalMemMB   uint64
	AvailMemMB   uint64
	UsedPercent  float64
}

// Host reads CPU and memory figures. Fields gopsutil cannot read are left zero.
func Host() HostInfo {
	var h HostInfo
	if n, err := cpu.Counts(true); err == nil {
		h.LogicalCPUs = n
	}
	if n, err := cpu.Counts(false); err == nil {
		h.PhysicalCPUs = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		h.TotalMemMB = vm.Total / 1024 / 1024
		h.AvailMemMB = vm.Available / 1024 / 1024
		h.UsedPercent = vm.UsedPercent
	}
	return h
}

var (
	workers     int
	workersOnce sync.Once
)

// Workers is the CPU-bound parallelism limit, at least 1.
func Workers() int {
	workersOnce.Do(func() {
		workers = Host().LogicalCPUs
		if workers <= 0 {
			workers = runtime.NumCPU()
		}
		if workers <= 0 {
			workers = 1
		}
	})
	return workers
}

// RaiseFileLimit lifts the open-file soft limit to want (bounded by the hard
// limit) and returns the resulting value. ffmpeg pipes and temp previews
// each hold descriptors.
func RaiseFileLimit(want uint64) (uint64, error) {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, fmt.Errorf("get file limit: %w", err)
	}
	if rLimit.Cur >= want {
		return rLimit.Cur, nil
	}

	rLimit.Cur = want
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, fmt.Errorf("set file limit: %w", err)
	}
	return rLimit.Cur, nil
}

// FindLatest returns the most recently modified file in dir whose extension
// matches one of exts (case-insensitive).
func FindLatest(dir string, exts ...string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if f.IsDir() || !hasExt(f.Name(), exts) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if latestFile == "" || info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = filepath.Join(dir, f.Name())
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("%w in %s (%s)", ErrNoMatch, dir, strings.Join(exts, ", "))
	}
	return latestFile, nil
}

func hasExt(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// FFmpegEncoders lists the encoder names compiled into the local ffmpeg.
// The probe runs once per process.
func FFmpegEncoders() (map[string]bool, error) {
	encodersOnce.Do(func() {
		out, err := exec.Command("ffmpeg", "-hide_banner", "-encoders").CombinedOutput()
		if err != nil {
			encodersErr = fmt.Errorf("ffmpeg -encoders: %w", err)
			return
		}
		encoders = parseEncoders(string(out))
	})
	return encoders, encodersErr
}

var (
	encoders     map[string]bool
	encodersErr  error
	encodersOnce sync.Once
)

// parseEncoders reads lines like " V....D libx264   H.264 / AVC ...".
func parseEncoders(out string) map[string]bool {
	found := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 || fields[1] == "=" {
			continue
		}
		found[fields[1]] = true
	}
	return found
}

// BestEncoder returns the first name in preference order that the local
// ffmpeg supports.
func BestEncoder(available map[string]bool, preference ...string) (string, bool) {
	for _, name := range preference {
		if available[name] {
			return name, true
		}
	}
	return "", false
}

// H264Preference is hardware first, software last.
var H264Preference = []string{"h264_videotoolbox", "h264_nvenc", "libx264"}
