package mprbin

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amperelab/cellkit/internal/cellerr"
	"github.com/amperelab/cellkit/internal/fsutil"
	"github.com/amperelab/cellkit/internal/ingest"
)

// section serialises one MODULE section with the fixed 51-byte header.
func section(shortname string, version uint32, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("MODULE")
	var name [10]byte
	copy(name[:], shortname)
	buf.Write(name[:])
	buf.Write(make([]byte, 25)) // longname
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	binary.Write(&buf, binary.LittleEndian, version)
	buf.Write([]byte("01/02/24")) // date
	buf.Write(payload)
	return buf.Bytes()
}

type testRow struct {
	time    float64
	voltage float32
	current float64
}

// dataPayload builds a version-0 data payload with a time/voltage/current
// column table (IDs 4, 6, 11) and the given rows, optionally truncating the
// row region.
func dataPayload(nPoints int, rows []testRow, truncate int) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(nPoints))
	buf.WriteByte(3)
	buf.Write([]byte{4, 6, 11})
	buf.Write(make([]byte, 100-buf.Len()))
	for _, r := range rows {
		binary.Write(&buf, binary.LittleEndian, r.time)
		binary.Write(&buf, binary.LittleEndian, r.voltage)
		binary.Write(&buf, binary.LittleEndian, r.current)
	}
	out := buf.Bytes()
	return out[:len(out)-truncate]
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	mem := fsutil.NewMemoryFileSystem()
	require.NoError(t, mem.WriteFile(path, data, 0o644))
	prev := ingest.FS
	ingest.FS = mem
	t.Cleanup(func() { ingest.FS = prev })
}

func TestAdapterDecodesRows(t *testing.T) {
	rows := []testRow{
		{time: 0, voltage: 3.2, current: 0},
		{time: 1, voltage: 3.45, current: 1500},
		{time: 2, voltage: 3.46, current: 1500},
	}
	file := append(
		section("VMP Set", 0, []byte("settings")),
		section("VMP data", 0, dataPayload(len(rows), rows, 0))...,
	)
	writeFile(t, "/data/run.mpr", file)

	a := New()
	require.NoError(t, a.Open(context.Background(), "/data/run.mpr"))
	defer a.Close()

	assert.Equal(t, 3, a.RowCountHint())

	rec, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Index)
	assert.Equal(t, 0.0, rec.Values["time/s"])
	assert.InDelta(t, 3.2, rec.Values["Ewe/V"], 1e-6)

	rec, err = a.Next()
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Values["time/s"])
	assert.Equal(t, 1500.0, rec.Values["I/mA"])

	_, err = a.Next()
	require.NoError(t, err)
	_, err = a.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestAdapterTruncatedRows(t *testing.T) {
	rows := []testRow{
		{time: 0, voltage: 3.2, current: 0},
		{time: 1, voltage: 3.3, current: 100},
	}
	// Declare 3 points but provide 2 rows; last row also loses 4 bytes.
	writeFile(t, "/data/short.mpr", section("VMP data", 0, dataPayload(3, rows, 4)))

	a := New()
	require.NoError(t, a.Open(context.Background(), "/data/short.mpr"))
	defer a.Close()

	_, err := a.Next()
	require.NoError(t, err)
	_, err = a.Next()
	var cd *cellerr.CorruptDataError
	require.ErrorAs(t, err, &cd)
	assert.Equal(t, 1, cd.RowsRecovered)
}

func TestAdapterUnknownColumnID(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	buf.WriteByte(1)
	buf.WriteByte(200) // not in the column table
	buf.Write(make([]byte, 100-buf.Len()))
	writeFile(t, "/data/odd.mpr", section("VMP data", 0, buf.Bytes()))

	a := New()
	err := a.Open(context.Background(), "/data/odd.mpr")
	var uf *cellerr.UnsupportedFormatError
	require.ErrorAs(t, err, &uf)
	assert.Contains(t, uf.Diagnostic, "unknown column id 200")
}

func TestAdapterNoDataSection(t *testing.T) {
	writeFile(t, "/data/empty.mpr", section("VMP Set", 0, []byte("settings")))

	a := New()
	err := a.Open(context.Background(), "/data/empty.mpr")
	var uf *cellerr.UnsupportedFormatError
	require.ErrorAs(t, err, &uf)
	assert.Contains(t, uf.Diagnostic, "no data section")
}

func TestAdapterBadMagic(t *testing.T) {
	writeFile(t, "/data/junk.mpr", []byte("NOTAMODULE...."))

	a := New()
	err := a.Open(context.Background(), "/data/junk.mpr")
	var uf *cellerr.UnsupportedFormatError
	require.ErrorAs(t, err, &uf)
}

func TestAdapterVersion2ColumnTable(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	buf.WriteByte(3)
	for _, id := range []uint16{4, 6, 11} {
		binary.Write(&buf, binary.LittleEndian, id)
	}
	buf.Write(make([]byte, 405-buf.Len()))
	binary.Write(&buf, binary.LittleEndian, 7.5)             // time/s
	binary.Write(&buf, binary.LittleEndian, float32(3.7))    // Ewe/V
	binary.Write(&buf, binary.LittleEndian, float64(-250.0)) // I/mA
	writeFile(t, "/data/v2.mpr", section("VMP data", 2, buf.Bytes()))

	a := New()
	require.NoError(t, a.Open(context.Background(), "/data/v2.mpr"))
	defer a.Close()

	rec, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, 7.5, rec.Values["time/s"])
	assert.InDelta(t, 3.7, rec.Values["Ewe/V"], 1e-6)
	assert.Equal(t, -250.0, rec.Values["I/mA"])
}

func TestAdapterUnknownDataVersion(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	buf.WriteByte(1)
	buf.WriteByte(4)
	buf.Write(make([]byte, 100-buf.Len()))
	writeFile(t, "/data/v9.mpr", section("VMP data", 9, buf.Bytes()))

	a := New()
	err := a.Open(context.Background(), "/data/v9.mpr")
	var uf *cellerr.UnsupportedFormatError
	require.ErrorAs(t, err, &uf)
	assert.Contains(t, uf.Diagnostic, "version 9")
}
