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

// Package executor runs batched embedding inference with adaptive batch sizes.
//
// Embed returns a lazy Stream that yields exactly one core.EmbeddingResult per
// input, in input order. Inputs are sent to the model in contiguous chunks of at
// most the current batch size. When the device runs out of memory the batch
// size halves for the rest of the stream and the chunk is retried; when even a
// single input does not fit the stream fails with core.ErrInsufficientResources.
// Any other chunk failure is isolated by running the chunk's inputs one at a
// time, so a malformed input costs only its own result.
//
// # Usage
//
//	stream := executor.New().Embed(ctx, handle, inputs, 16)
//	for stream.Next() {
//	    res := stream.Result()
//	    if res.Err != nil {
//	        log.Printf("skipping %s: %v", res.Name, res.Err)
//	        continue
//	    }
//	    use(res.Index, res.Vector)
//	}
//	if err := stream.Err(); err != nil {
//	    return err
//	}
package executor
