package hwid

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/user"
	"runtime"
	"strings"
)

// Probe reads raw machine identity sources. Implementations may fail per
// source; Generate applies stable fallbacks so a fingerprint is always
// produced.
type Probe interface {
	CPUID() (string, error)
	DiskSerial() (string, error)
	BaseboardSerial() (string, error)
}

// SystemProbe reads identity sources from the running machine using
// platform-specific tooling.
type SystemProbe struct{}

// NewSystemProbe creates a probe backed by the local operating system.
func NewSystemProbe() *SystemProbe {
	return &SystemProbe{}
}

// CPUID returns a processor identifier for the local machine.
func (p *SystemProbe) CPUID() (string, error) {
	switch runtime.GOOS {
	case "windows":
		out, err := exec.Command("wmic", "cpu", "get", "ProcessorId", "/value").Output()
		if err != nil {
			return "", fmt.Errorf("query processor id: %w", err)
		}
		if v := parseWMICValue(string(out), "ProcessorId"); v != "" {
			return v, nil
		}
		return "", fmt.Errorf("processor id not reported")
	case "linux":
		data, err := os.ReadFile("/proc/cpuinfo")
		if err != nil {
			return "", fmt.Errorf("read cpuinfo: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "model name") {
				parts := strings.SplitN(line, ":", 2)
				if len(parts) == 2 {
					return strings.TrimSpace(parts[1]), nil
				}
			}
		}
		return "", fmt.Errorf("model name not found in cpuinfo")
	case "darwin":
		out, err := exec.Command("sysctl", "-n", "machdep.cpu.brand_string").Output()
		if err != nil {
			return "", fmt.Errorf("query cpu brand: %w", err)
		}
		return strings.TrimSpace(string(out)), nil
	default:
		return "", fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
}

// DiskSerial returns the serial number of the primary disk.
func (p *SystemProbe) DiskSerial() (string, error) {
	switch runtime.GOOS {
	case "windows":
		out, err := exec.Command("wmic", "diskdrive", "get", "SerialNumber", "/value").Output()
		if err != nil {
			return "", fmt.Errorf("query disk serial: %w", err)
		}
		if v := parseWMICValue(string(out), "SerialNumber"); v != "" {
			return v, nil
		}
		return "", fmt.Errorf("disk serial not reported")
	case "linux":
		out, err := exec.Command("lsblk", "-d", "-n", "-o", "SERIAL").Output()
		if err != nil {
			return "", fmt.Errorf("query disk serial: %w", err)
		}
		for _, line := range strings.Split(string(out), "\n") {
			if s := strings.TrimSpace(line); s != "" {
				return s, nil
			}
		}
		return "", fmt.Errorf("no disk serial reported")
	case "darwin":
		out, err := exec.Command("system_profiler", "SPSerialATADataType").Output()
		if err != nil {
			return "", fmt.Errorf("query disk serial: %w", err)
		}
		for _, line := range strings.Split(string(out), "\n") {
			if strings.Contains(line, "Serial Number") {
				parts := strings.SplitN(line, ":", 2)
				if len(parts) == 2 {
					return strings.TrimSpace(parts[1]), nil
				}
			}
		}
		return "", fmt.Errorf("no disk serial reported")
	default:
		return "", fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
}

// BaseboardSerial returns the motherboard serial number.
func (p *SystemProbe) BaseboardSerial() (string, error) {
	switch runtime.GOOS {
	case "windows":
		out, err := exec.Command("wmic", "baseboard", "get", "SerialNumber", "/value").Output()
		if err != nil {
			return "", fmt.Errorf("query baseboard serial: %w", err)
		}
		if v := parseWMICValue(string(out), "SerialNumber"); v != "" {
			return v, nil
		}
		return "", fmt.Errorf("baseboard serial not reported")
	case "linux":
		data, err := os.ReadFile("/sys/class/dmi/id/board_serial")
		if err == nil {
			if s := strings.TrimSpace(string(data)); s != "" {
				return s, nil
			}
		}
		out, err := exec.Command("dmidecode", "-s", "baseboard-serial-number").Output()
		if err != nil {
			return "", fmt.Errorf("query baseboard serial: %w", err)
		}
		if s := strings.TrimSpace(string(out)); s != "" {
			return s, nil
		}
		return "", fmt.Errorf("baseboard serial not reported")
	case "darwin":
		out, err := exec.Command("ioreg", "-l").Output()
		if err != nil {
			return "", fmt.Errorf("query platform serial: %w", err)
		}
		for _, line := range strings.Split(string(out), "\n") {
			if strings.Contains(line, "IOPlatformSerialNumber") {
				if i := strings.LastIndex(line, "= "); i >= 0 {
					return strings.Trim(strings.TrimSpace(line[i+2:]), `"`), nil
				}
			}
		}
		return "", fmt.Errorf("platform serial not reported")
	default:
		return "", fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
}

func parseWMICValue(output, key string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, key+"=") {
			return strings.TrimPrefix(line, key+"=")
		}
	}
	return ""
}

// fallbackCPU describes the platform when the processor id is unreadable.
func fallbackCPU() string {
	return fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)
}

// fallbackDisk derives a node identifier from the first active non-loopback
// network interface.
func fallbackDisk() string {
	interfaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range interfaces {
			if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 && len(iface.HardwareAddr) > 0 {
				return "node-" + iface.HardwareAddr.String()
			}
		}
	}
	host, _ := os.Hostname()
	return "node-" + host
}

// fallbackBaseboard combines hostname and current user.
func fallbackBaseboard() string {
	host, _ := os.Hostname()
	name := "unknown"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	return host + "-" + name
}
