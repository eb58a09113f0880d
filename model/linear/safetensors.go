// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package linear

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strings"
)

const (
	maxHeaderSize    = 16 * 1024 * 1024
	metadataKey      = "__metadata__"
	dtypeF32         = "F32"
	bytesPerF32      = 4
	headerLengthSize = 8
)

type tensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// SafetensorsFile gives random access to tensors without reading the whole file.
type SafetensorsFile struct {
	file       *os.File
	dataStart  int64
	dataLength int64
	tensors    map[string]tensorInfo
	metadata   map[string]string
}

// OpenSafetensors reads and validates the header of a safetensors file.
func OpenSafetensors(path string) (*SafetensorsFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	sf, err := parseHeader(f, st.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	sf.file = f
	return sf, nil
}

func parseHeader(r io.ReaderAt, size int64) (*SafetensorsFile, error) {
	var lenBuf [headerLengthSize]byte
	if _, err := r.ReadAt(lenBuf[:], 0); err != nil {
		return nil, fmt.Errorf("%w: read header length: %v", ErrInvalidSafetensors, err)
	}
	headerLen := binary.LittleEndian.Uint64(lenBuf[:])
	if headerLen == 0 || headerLen > maxHeaderSize || int64(headerLen) > size-headerLengthSize {
		return nil, fmt.Errorf("%w: header length %d", ErrInvalidSafetensors, headerLen)
	}

	header := make([]byte, headerLen)
	if _, err := r.ReadAt(header, headerLengthSize); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrInvalidSafetensors, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(header, &raw); err != nil {
		return nil, fmt.Errorf("%w: header json: %v", ErrInvalidSafetensors, err)
	}

	sf := &SafetensorsFile{
		dataStart:  headerLengthSize + int64(headerLen),
		dataLength: size - headerLengthSize - int64(headerLen),
		tensors:    make(map[string]tensorInfo, len(raw)),
	}
	for name, msg := range raw {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &sf.metadata); err != nil {
				return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidSafetensors, err)
			}
			continue
		}
		var info tensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, fmt.Errorf("%w: tensor %s: %v", ErrInvalidSafetensors, name, err)
		}
		start, end := info.DataOffsets[0], info.DataOffsets[1]
		if start < 0 || end < start || end > sf.dataLength {
			return nil, fmt.Errorf("%w: tensor %s offsets [%d, %d] outside %d data bytes",
				ErrInvalidSafetensors, name, start, end, sf.dataLength)
		}
		sf.tensors[name] = info
	}
	return sf, nil
}

// Names returns the tensor names in sorted order.
func (sf *SafetensorsFile) Names() []string {
	names := make([]string, 0, len(sf.tensors))
	for name := range sf.tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Metadata returns the optional string metadata of the file.
func (sf *SafetensorsFile) Metadata() map[string]string {
	return sf.metadata
}

// Shape returns the shape of a tensor.
func (sf *SafetensorsFile) Shape(name string) ([]int, error) {
	info, ok := sf.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return info.Shape, nil
}

// Float32 reads an F32 tensor.
func (sf *SafetensorsFile) Float32(name string) ([]float32, []int, error) {
	info, ok := sf.tensors[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	if info.DType != dtypeF32 {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrUnsupportedDType, name, info.DType)
	}

	count := int64(1)
	for _, d := range info.Shape {
		if d < 0 {
			return nil, nil, fmt.Errorf("%w: %s has negative dimension", ErrInvalidSafetensors, name)
		}
		count *= int64(d)
	}
	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if end-start != count*bytesPerF32 {
		return nil, nil, fmt.Errorf("%w: %s holds %d bytes, shape %v needs %d",
			ErrInvalidSafetensors, name, end-start, info.Shape, count*bytesPerF32)
	}

	buf := make([]byte, end-start)
	if _, err := sf.file.ReadAt(buf, sf.dataStart+start); err != nil {
		return nil, nil, fmt.Errorf("%w: read %s: %v", ErrInvalidSafetensors, name, err)
	}
	values := make([]float32, count)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*bytesPerF32:]))
	}
	return values, info.Shape, nil
}

// Close closes the underlying file.
func (sf *SafetensorsFile) Close() error {
	return sf.file.Close()
}

// Tensor is an F32 tensor to be written by WriteSafetensors.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float32
}

// WriteSafetensors encodes tensors in the safetensors format, in name order.
func WriteSafetensors(w io.Writer, metadata map[string]string, tensors ...Tensor) error {
	slices.SortFunc(tensors, func(a, b Tensor) int {
		return strings.Compare(a.Name, b.Name)
	})

	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	var offset int64
	for _, t := range tensors {
		size := int64(len(t.Data)) * bytesPerF32
		header[t.Name] = tensorInfo{
			DType:       dtypeF32,
			Shape:       t.Shape,
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return err
	}
	// Pad the header so tensor data starts 8-byte aligned.
	if pad := len(headerJSON) % 8; pad != 0 {
		headerJSON = append(headerJSON, []byte(strings.Repeat(" ", 8-pad))...)
	}

	var lenBuf [headerLengthSize]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerJSON)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(headerJSON); err != nil {
		return err
	}
	for _, t := range tensors {
		buf := make([]byte, len(t.Data)*bytesPerF32)
		for i, v := range t.Data {
			binary.LittleEndian.PutUint32(buf[i*bytesPerF32:], math.Float32bits(v))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
