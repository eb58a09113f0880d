package store

// Key prefixes for different data types
const (
	vectorPrefix = "vec"
)

// makeVectorKey generates a key for a vector.
// Format: prefix:model:contentKey
func makeVectorKey(model, key string) []byte {
	return []byte(vectorPrefix + ":" + model + ":" + key)
}

// makeModelPrefix generates the prefix shared by all vectors of a model.
func makeModelPrefix(model string) []byte {
	return []byte(vectorPrefix + ":" + model + ":")
}
