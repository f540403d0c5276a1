package cell

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// Fingerprint returns a stable content hash of the samples. Two datasets
// with identical samples hash identically regardless of metadata, which is
// what summary caching keys on.
func (d *Dataset) Fingerprint() string {
	h := sha256.New()
	var buf [8]byte
	writeF := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	writeI := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	for i := range d.Samples {
		s := &d.Samples[i]
		writeF(s.TestTime)
		writeI(s.StepIndex)
		writeI(s.CycleIndex)
		writeF(s.Voltage)
		writeF(s.Current)
		writeF(s.ChargeCapacity)
		writeF(s.DischargeCapacity)
		h.Write([]byte(s.StepType))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
