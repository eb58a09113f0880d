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

// Package store persists embedding vectors in BadgerDB so repeated runs over the
// same images skip inference.
//
// Vectors are keyed by model identifier and the content key of the input
// (core.InputKey), so renaming a file does not invalidate its vector and two
// models never share entries. Records are serialized with mus-go.
//
// Store implements executor.VectorCache:
//
//	st, err := store.Open(cfg.StoreDir)
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//	ex := executor.New(executor.WithVectorCache(st))
package store
