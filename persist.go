package annbridge

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hupe1980/annbridge/model"
)

// PersistentImage is the durable snapshot of one index's adapter state:
// the forward label-to-row-id mapping, the fixed index parameters and
// the backend dataset path. It deliberately excludes anything the
// backend itself persists.
//
// Wire format (little-endian, bit-exact):
//
//	[u32 nameLen][name bytes]
//	[u64 mappingCount][mappingCount x i64 rowId]
//	[i32 dimension][i32 nprobes][i32 refineFactor]
//	[u32 metricLen][metric bytes]
//	[u32 pathLen][path bytes]
//
// A rowId of -1 marks a tombstoned or unused label slot.
type PersistentImage struct {
	Name         string
	Forward      []model.RowID
	Dimension    int
	NProbes      int
	RefineFactor int
	Metric       model.Metric
	Path         string
}

// Params returns the index parameters carried by the image.
func (img *PersistentImage) Params() model.Params {
	return model.Params{
		Dimension:    img.Dimension,
		Metric:       img.Metric,
		NProbes:      img.NProbes,
		RefineFactor: img.RefineFactor,
	}
}

// EncodeImage writes the image to w in the wire format.
func EncodeImage(w io.Writer, img *PersistentImage) error {
	bw := bufio.NewWriter(w)

	if err := writeBytes(bw, []byte(img.Name)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(img.Forward))); err != nil {
		return err
	}
	if len(img.Forward) > 0 {
		if err := binary.Write(bw, binary.LittleEndian, img.Forward); err != nil {
			return err
		}
	}
	for _, v := range []int32{int32(img.Dimension), int32(img.NProbes), int32(img.RefineFactor)} {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if err := writeBytes(bw, []byte(img.Metric)); err != nil {
		return err
	}
	if err := writeBytes(bw, []byte(img.Path)); err != nil {
		return err
	}
	return bw.Flush()
}

// DecodeImage reads an image in the wire format from r.
func DecodeImage(r io.Reader) (*PersistentImage, error) {
	br := bufio.NewReader(r)
	img := &PersistentImage{}

	name, err := readBytes(br)
	if err != nil {
		return nil, fmt.Errorf("read index name: %w", err)
	}
	img.Name = string(name)

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read mapping count: %w", err)
	}
	if count > 0 {
		img.Forward = make([]model.RowID, count)
		if err := binary.Read(br, binary.LittleEndian, img.Forward); err != nil {
			return nil, fmt.Errorf("read mappings: %w", err)
		}
	}

	var dim, nprobes, refine int32
	for _, dst := range []*int32{&dim, &nprobes, &refine} {
		if err := binary.Read(br, binary.LittleEndian, dst); err != nil {
			return nil, fmt.Errorf("read parameters: %w", err)
		}
	}
	img.Dimension = int(dim)
	img.NProbes = int(nprobes)
	img.RefineFactor = int(refine)

	metric, err := readBytes(br)
	if err != nil {
		return nil, fmt.Errorf("read metric: %w", err)
	}
	img.Metric = model.Metric(metric)

	path, err := readBytes(br)
	if err != nil {
		return nil, fmt.Errorf("read dataset path: %w", err)
	}
	img.Path = string(path)

	return img, nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
