// Package mock provides a deterministic test double for model.Model and model.Loader.
//
// The mock lets tests drive the resolver and executor without real weights:
// vectors are derived from input content, device memory grows linearly with
// batch size, and every batch size the model saw is recorded.
//
// # Usage in Tests
//
//	m := mock.NewModel(8)
//	m.InputFunc = func(in core.Input) error {
//	    if in.Name == "broken.jpg" {
//	        return core.ErrMalformedInput
//	    }
//	    return nil
//	}
//	loader := mock.NewLoader(m, "config.json", "model.safetensors")
package mock
