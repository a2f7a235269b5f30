package hwid

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	cpu, disk, board string
	cpuErr, diskErr, boardErr error
}

func (f *fakeProbe) CPUID() (string, error)           { return f.cpu, f.cpuErr }
func (f *fakeProbe) DiskSerial() (string, error)      { return f.disk, f.diskErr }
func (f *fakeProbe) BaseboardSerial() (string, error) { return f.board, f.boardErr }

func TestGenerate(t *testing.T) {
	t.Run("deterministic for identical probe results", func(t *testing.T) {
		probe := &fakeProbe{cpu: "BFEBFBFF000306C3", disk: "WD-1234", board: "MB-9999"}

		first := Generate(probe)
		second := Generate(probe)

		assert.Equal(t, first, second)
		assert.Len(t, first, 64)
	})

	t.Run("digest covers sources joined with separator", func(t *testing.T) {
		probe := &fakeProbe{cpu: "cpu-a", disk: "disk-b", board: "board-c"}

		sum := sha256.Sum256([]byte("cpu-a|disk-b|board-c"))
		assert.Equal(t, hex.EncodeToString(sum[:]), Generate(probe))
	})

	t.Run("different sources produce different fingerprints", func(t *testing.T) {
		a := Generate(&fakeProbe{cpu: "cpu-a", disk: "disk-b", board: "board-c"})
		b := Generate(&fakeProbe{cpu: "cpu-a", disk: "disk-b", board: "board-d"})

		assert.NotEqual(t, a, b)
	})

	t.Run("probe failures fall back without error", func(t *testing.T) {
		probe := &fakeProbe{
			cpuErr:   errors.New("wmic unavailable"),
			diskErr:  errors.New("lsblk unavailable"),
			boardErr: errors.New("dmidecode unavailable"),
		}

		fp := Generate(probe)
		require.Len(t, fp, 64)

		// fallbacks are stable, so repeated generation agrees
		assert.Equal(t, fp, Generate(probe))
	})

	t.Run("blank probe output treated as failure", func(t *testing.T) {
		withBlank := Generate(&fakeProbe{cpu: "  ", disk: "disk", board: "board"})
		withFallback := Generate(&fakeProbe{cpuErr: errors.New("unreadable"), disk: "disk", board: "board"})

		assert.Equal(t, withFallback, withBlank)
	})
}

func TestSystemProbeConstructs(t *testing.T) {
	require.NotNil(t, NewSystemProbe())
}

func TestParseWMICValue(t *testing.T) {
	out := "\r\n\r\nProcessorId=BFEBFBFF000306C3\r\n\r\n"
	assert.Equal(t, "BFEBFBFF000306C3", parseWMICValue(out, "ProcessorId"))
	assert.Equal(t, "", parseWMICValue(out, "SerialNumber"))
}
