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

// Package imgembed resolves an image embedding model under a network policy and
// embeds images with it in memory-bounded batches.
//
// A Session binds one configuration to one resolved model:
//
//	cfg, err := config.Load("imgembed.yaml")
//	if err != nil {
//	    return err
//	}
//	session, err := imgembed.Open(ctx, cfg)
//	if err != nil {
//	    return err // core.ErrModelNotCached, *core.ResolutionError, ...
//	}
//	defer session.Close()
//
//	for res, err := range session.Embed(ctx, inputs).All() {
//	    ...
//	}
//
// Models come from the local cache first. Unless offline mode is on, a missing
// model is downloaded from the configured mirror and then the default host,
// optionally through a proxy. The default loader is the pure-Go linear encoder
// in model/linear; other architectures plug in through model.Loader.
package imgembed
