/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package atlas

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	niftiHeaderSize = 348

	// maxVoxels bounds a single frame; atlases are far smaller.
	maxVoxels = 512 * 512 * 512

	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
	dtUint32  = 768
)

var (
	ErrNotNIfTI      = errors.New("not a NIfTI-1 file")
	ErrUnsupportedDT = errors.New("unsupported NIfTI datatype")
)

// niftiHeader holds the subset of the NIfTI-1 header needed to read labels.
type niftiHeader struct {
	order     binary.ByteOrder
	dim       [8]int16
	datatype  int16
	bitpix    int16
	voxOffset float32
	sclSlope  float32
	sclInter  float32
	magic     [4]byte
}

// ReadNIfTI decodes a single-file NIfTI-1 label volume, gzipped or not.
func ReadNIfTI(r io.Reader) (*Grid, error) {
	br := bufio.NewReader(r)

	peek, err := br.Peek(2)
	if err != nil {
		return nil, fmt.Errorf("read nifti: %w", err)
	}

	var src io.Reader = br
	if peek[0] == 0x1f && peek[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer zr.Close()

		src = zr
	}

	raw := make([]byte, niftiHeaderSize)
	if _, err := io.ReadFull(src, raw); err != nil {
		return nil, fmt.Errorf("read nifti header: %w", err)
	}

	hdr, err := parseHeader(raw)
	if err != nil {
		return nil, err
	}

	ndim := int(hdr.dim[0])
	if ndim < 3 || ndim > 7 {
		return nil, fmt.Errorf("%w: %d dimensions", ErrNotNIfTI, ndim)
	}

	nx, ny, nz := int(hdr.dim[1]), int(hdr.dim[2]), int(hdr.dim[3])
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%dx%d", ErrNotNIfTI, nx, ny, nz)
	}

	width, err := datatypeWidth(hdr.datatype)
	if err != nil {
		return nil, err
	}

	// Skip extensions up to the start of the voxel data.
	offset := int64(hdr.voxOffset)
	if offset < niftiHeaderSize {
		offset = niftiHeaderSize + 4
	}
	if _, err := io.CopyN(io.Discard, src, offset-niftiHeaderSize); err != nil {
		return nil, fmt.Errorf("skip nifti extensions: %w", err)
	}

	// Only the first 3-D frame is read.
	count := nx * ny * nz
	if count > maxVoxels {
		return nil, fmt.Errorf("%w: %dx%dx%d exceeds %d voxels", ErrNotNIfTI, nx, ny, nz, maxVoxels)
	}

	// The buffer grows with the data actually present, not the header's claim.
	size := int64(count) * int64(width)
	data, err := io.ReadAll(io.LimitReader(src, size))
	if err != nil {
		return nil, fmt.Errorf("read nifti voxels: %w", err)
	}
	if int64(len(data)) < size {
		return nil, fmt.Errorf("read nifti voxels: %w", io.ErrUnexpectedEOF)
	}

	grid := NewGrid(nx, ny, nz)

	slope, inter := float64(hdr.sclSlope), float64(hdr.sclInter)
	scaled := slope != 0 && !math.IsNaN(slope) && (slope != 1 || inter != 0)

	for i := 0; i < count; i++ {
		v := decodeVoxel(hdr.order, hdr.datatype, data[i*width:(i+1)*width])
		if scaled {
			v = v*slope + inter
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		grid.Data[i] = int32(math.Round(v))
	}

	return grid, nil
}

func parseHeader(raw []byte) (*niftiHeader, error) {
	hdr := &niftiHeader{}

	switch {
	case binary.LittleEndian.Uint32(raw[0:4]) == niftiHeaderSize:
		hdr.order = binary.LittleEndian
	case binary.BigEndian.Uint32(raw[0:4]) == niftiHeaderSize:
		hdr.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad header size", ErrNotNIfTI)
	}

	copy(hdr.magic[:], raw[344:348])
	if !bytes.Equal(hdr.magic[:3], []byte("n+1")) {
		return nil, fmt.Errorf("%w: magic %q", ErrNotNIfTI, hdr.magic[:3])
	}

	for i := range hdr.dim {
		hdr.dim[i] = int16(hdr.order.Uint16(raw[40+2*i:]))
	}
	hdr.datatype = int16(hdr.order.Uint16(raw[70:]))
	hdr.bitpix = int16(hdr.order.Uint16(raw[72:]))
	hdr.voxOffset = math.Float32frombits(hdr.order.Uint32(raw[108:]))
	hdr.sclSlope = math.Float32frombits(hdr.order.Uint32(raw[112:]))
	hdr.sclInter = math.Float32frombits(hdr.order.Uint32(raw[116:]))

	return hdr, nil
}

func datatypeWidth(dt int16) (int, error) {
	switch dt {
	case dtUint8, dtInt8:
		return 1, nil
	case dtInt16, dtUint16:
		return 2, nil
	case dtInt32, dtUint32, dtFloat32:
		return 4, nil
	case dtFloat64:
		return 8, nil
	}

	return 0, fmt.Errorf("%w: %d", ErrUnsupportedDT, dt)
}

func decodeVoxel(order binary.ByteOrder, dt int16, b []byte) float64 {
	switch dt {
	case dtUint8:
		return float64(b[0])
	case dtInt8:
		return float64(int8(b[0]))
	case dtInt16:
		return float64(int16(order.Uint16(b)))
	case dtUint16:
		return float64(order.Uint16(b))
	case dtInt32:
		return float64(int32(order.Uint32(b)))
	case dtUint32:
		return float64(order.Uint32(b))
	case dtFloat32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case dtFloat64:
		return math.Float64frombits(order.Uint64(b))
	}

	return 0
}
