package arch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BadgerOps/libsync/internal/safety"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
)

// DefaultCPUInfoPath is the Linux pseudo-file the capability line is read from.
const DefaultCPUInfoPath = "/proc/cpuinfo"

// maxCapabilityLine bounds how much of the first line is read.
const maxCapabilityLine = 4096

// keyValueSep splits "key: value"; only the first match counts.
var keyValueSep = regexp.MustCompile(`:\s+`)

// UnavailableError reports that no capability source produced any text.
type UnavailableError struct {
	Errs []error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("host capability text unavailable: %v", errors.Join(e.Errs...))
}

func (e *UnavailableError) Unwrap() []error {
	return e.Errs
}

// Source produces raw host capability text.
type Source interface {
	Name() string
	Capability(ctx context.Context) (string, error)
}

// ReadCapability returns the text of the first source that yields a non-empty
// value. When every source fails or is empty it returns *UnavailableError;
// callers are expected to log it and fall back to Detect("").
func ReadCapability(ctx context.Context, sources ...Source) (string, error) {
	var errs []error
	for _, src := range sources {
		text, err := src.Capability(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("capability detection cancelled: %w", ctx.Err())
			}
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		if text != "" {
			return text, nil
		}
		errs = append(errs, fmt.Errorf("%s: empty capability text", src.Name()))
	}
	return "", &UnavailableError{Errs: errs}
}

// DefaultSources is the cpuinfo pseudo-file followed by gopsutil host info.
func DefaultSources(cpuInfoPath string) []Source {
	if cpuInfoPath == "" {
		cpuInfoPath = DefaultCPUInfoPath
	}
	return []Source{ProcCPUInfo(cpuInfoPath), HostInfo()}
}

type procCPUInfo struct {
	path string
}

// ProcCPUInfo reads the first line of a cpuinfo style file and returns the
// value after the first colon and whitespace. A first line without that
// separator produces empty text.
func ProcCPUInfo(path string) Source {
	return &procCPUInfo{path: path}
}

func (p *procCPUInfo) Name() string {
	return p.path
}

func (p *procCPUInfo) Capability(ctx context.Context) (string, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return "", fmt.Errorf("open cpuinfo: %w", err)
	}
	defer f.Close()

	line, err := safety.ReadLineWithLimit(f, maxCapabilityLine)
	if err != nil {
		return "", fmt.Errorf("read cpuinfo: %w", err)
	}
	return ParseCapabilityLine(line), nil
}

// ParseCapabilityLine extracts the value from a "key: value" line.
func ParseCapabilityLine(line string) string {
	parts := keyValueSep.Split(strings.TrimRight(line, "\r\n"), 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

type hostInfo struct{}

// HostInfo asks gopsutil for the CPU model name, then the vendor id, then the
// kernel architecture.
func HostInfo() Source {
	return hostInfo{}
}

func (hostInfo) Name() string {
	return "gopsutil"
}

func (hostInfo) Capability(ctx context.Context) (string, error) {
	infos, cpuErr := cpu.InfoWithContext(ctx)
	if cpuErr == nil {
		for _, info := range infos {
			if info.ModelName != "" {
				return info.ModelName, nil
			}
			if info.VendorID != "" {
				return info.VendorID, nil
			}
		}
	}

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", errors.Join(cpuErr, fmt.Errorf("host info: %w", err))
	}
	if info.KernelArch == "" {
		return "", errors.Join(cpuErr, errors.New("host info: empty kernel arch"))
	}
	return info.KernelArch, nil
}

// StaticSource returns fixed text; used for overrides and tests.
func StaticSource(text string) Source {
	return staticSource(text)
}

type staticSource string

func (s staticSource) Name() string { return "static" }

func (s staticSource) Capability(context.Context) (string, error) {
	return string(s), nil
}
