// Package hwid generates a stable hardware fingerprint used to bind cached
// trust to the machine that earned it.
package hwid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Generate produces the machine fingerprint: the SHA-256 hex digest of the
// CPU, disk and baseboard identity sources joined with "|". Each source that
// cannot be read is replaced by a stable fallback, so generation always
// succeeds and is deterministic for a given machine state.
func Generate(probe Probe) string {
	var cpu, disk, board string

	var g errgroup.Group
	g.Go(func() error {
		v, err := probe.CPUID()
		if err != nil || strings.TrimSpace(v) == "" {
			v = fallbackCPU()
		}
		cpu = strings.TrimSpace(v)
		return nil
	})
	g.Go(func() error {
		v, err := probe.DiskSerial()
		if err != nil || strings.TrimSpace(v) == "" {
			v = fallbackDisk()
		}
		disk = strings.TrimSpace(v)
		return nil
	})
	g.Go(func() error {
		v, err := probe.BaseboardSerial()
		if err != nil || strings.TrimSpace(v) == "" {
			v = fallbackBaseboard()
		}
		board = strings.TrimSpace(v)
		return nil
	})
	g.Wait()

	combined := strings.Join([]string{cpu, disk, board}, "|")
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:])
}
