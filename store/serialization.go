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
package store

import (
	"fmt"
	"math"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
)

// Record is one stored vector.
type Record struct {
	Model     string
	Vector    []float32
	CreatedAt time.Time
}

// MarshalRecord serializes a Record to bytes.
// Layout: model string, vector length, float32 bits per element, creation time in microseconds.
func MarshalRecord(r *Record) []byte {
	buf := make([]byte, recordSize(r))
	n := ord.String.Marshal(r.Model, buf)
	n += varint.Uint64.Marshal(uint64(len(r.Vector)), buf[n:])
	for _, f := range r.Vector {
		n += varint.Uint32.Marshal(math.Float32bits(f), buf[n:])
	}
	varint.Int64.Marshal(r.CreatedAt.UnixMicro(), buf[n:])
	return buf
}

// UnmarshalRecord deserializes a Record from bytes.
func UnmarshalRecord(data []byte) (*Record, error) {
	model, n, err := ord.String.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: model: %w", ErrCorruptRecord, err)
	}
	length, m, err := varint.Uint64.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: length: %w", ErrCorruptRecord, err)
	}
	n += m
	// Every element takes at least one byte.
	if length > uint64(len(data)-n) {
		return nil, fmt.Errorf("%w: %d elements in %d bytes", ErrCorruptRecord, length, len(data)-n)
	}

	vector := make([]float32, length)
	for i := range vector {
		bits, m, err := varint.Uint32.Unmarshal(data[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %w", ErrCorruptRecord, i, err)
		}
		n += m
		vector[i] = math.Float32frombits(bits)
	}

	micros, _, err := varint.Int64.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %w", ErrCorruptRecord, err)
	}
	return &Record{
		Model:     model,
		Vector:    vector,
		CreatedAt: time.UnixMicro(micros).UTC(),
	}, nil
}

func recordSize(r *Record) int {
	size := ord.String.Size(r.Model)
	size += varint.Uint64.Size(uint64(len(r.Vector)))
	for _, f := range r.Vector {
		size += varint.Uint32.Size(math.Float32bits(f))
	}
	return size + varint.Int64.Size(r.CreatedAt.UnixMicro())
}
