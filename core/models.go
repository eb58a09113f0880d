package core

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// DefaultRevision is used when a model identifier does not pin a revision.
const DefaultRevision = "main"

// ModelID names a model on a Hugging Face style hub.
// Format: namespace/name[@revision]. Values are immutable once parsed.
type ModelID struct {
	Namespace string
	Name      string
	Revision  string
}

// ParseModelID parses and validates a model identifier.
func ParseModelID(s string) (ModelID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ModelID{}, fmt.Errorf("%w: empty identifier", ErrInvalidModelID)
	}
	if len(s) > maxModelIDLength {
		return ModelID{}, fmt.Errorf("%w: identifier longer than %d characters", ErrInvalidModelID, maxModelIDLength)
	}

	repo, rev, hasRev := strings.Cut(s, "@")
	if hasRev && rev == "" {
		return ModelID{}, fmt.Errorf("%w: empty revision in %q", ErrInvalidModelID, s)
	}
	if !hasRev {
		rev = DefaultRevision
	}

	ns, name, ok := strings.Cut(repo, "/")
	if !ok || strings.Contains(name, "/") {
		return ModelID{}, fmt.Errorf("%w: %q must be namespace/name", ErrInvalidModelID, s)
	}

	id := ModelID{Namespace: ns, Name: name, Revision: rev}
	if err := ValidateModelID(id); err != nil {
		return ModelID{}, err
	}
	return id, nil
}

// MustParseModelID is like ParseModelID but panics on error.
// Intended for constants and tests.
func MustParseModelID(s string) ModelID {
	id, err := ParseModelID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Repo returns the namespace/name pair without revision.
func (id ModelID) Repo() string {
	return id.Namespace + "/" + id.Name
}

// String returns the canonical form. The revision is omitted when it is the default.
func (id ModelID) String() string {
	if id.Revision == "" || id.Revision == DefaultRevision {
		return id.Repo()
	}
	return id.Repo() + "@" + id.Revision
}

// CacheDirName returns the directory name holding this model inside a cache root.
// Format: models--namespace--name[--revision]
func (id ModelID) CacheDirName() string {
	name := "models--" + id.Namespace + "--" + id.Name
	if id.Revision != "" && id.Revision != DefaultRevision {
		name += "--" + id.Revision
	}
	return name
}

// ProxyConfig routes outbound fetches through HTTP proxies.
type ProxyConfig struct {
	HTTP    string
	HTTPS   string
	NoProxy string
}

// IsZero reports whether no proxy is configured.
func (p *ProxyConfig) IsZero() bool {
	return p == nil || (p.HTTP == "" && p.HTTPS == "")
}

// RetryPolicy bounds the retries of transient network failures within one source.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration

	// Multiplier scales the delay after each failed attempt.
	Multiplier float64
}

// DefaultRetryPolicy returns 3 attempts starting at 1s and doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   3,
		BaseDelay:  time.Second,
		Multiplier: 2,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (r RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(r.BaseDelay)
	mult := r.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < attempt; i++ {
		delay *= mult
	}
	return time.Duration(delay)
}

// Policy governs where model weights may come from.
// A Policy is built once at startup and never mutated afterwards.
type Policy struct {
	// Offline forbids every network attempt. Resolution must succeed from CacheDir alone.
	Offline bool

	// MirrorURL is an optional hub mirror tried before the default host.
	MirrorURL *url.URL

	// DirectURL is the default model host. Nil means the public Hugging Face hub.
	DirectURL *url.URL

	// CacheDir is the root of the local model cache.
	CacheDir string

	// Proxy optionally routes hub requests through an HTTP proxy.
	Proxy *ProxyConfig

	// Retry bounds retries of transient failures per source.
	Retry RetryPolicy

	// DownloadConcurrency caps parallel file downloads for one model.
	DownloadConcurrency int
}

// Input is a single item to embed: a file on disk or in-memory bytes.
type Input struct {
	// Name identifies the input in results and logs. Defaults to Path.
	Name string

	// Path is read when Data is nil.
	Path string

	// Data holds the encoded image when the caller already has it in memory.
	Data []byte
}

// InputFromPath creates an Input backed by a file.
func InputFromPath(path string) Input {
	return Input{Name: path, Path: path}
}

// Label returns the name used to report this input.
func (in Input) Label() string {
	if in.Name != "" {
		return in.Name
	}
	return in.Path
}

// Open returns a reader over the input's encoded bytes.
func (in Input) Open() (io.ReadCloser, error) {
	if in.Data != nil {
		return io.NopCloser(bytes.NewReader(in.Data)), nil
	}
	if in.Path == "" {
		return nil, fmt.Errorf("%w: input has neither data nor path", ErrMalformedInput)
	}
	return os.Open(in.Path)
}

// InputKey derives a content-addressed key for an input using BLAKE2b.
// Two inputs with identical bytes share a key regardless of their names.
func InputKey(in Input) (string, error) {
	h, err := blake2b.New(16, nil)
	if err != nil {
		return "", err
	}
	if in.Data != nil {
		h.Write(in.Data)
	} else {
		rc, err := in.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		if _, err := io.Copy(h, rc); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// EmbeddingResult is the outcome for one input.
// Exactly one of Vector and Err is set.
type EmbeddingResult struct {
	// Index is the input's position in the original sequence.
	Index int

	// Name echoes the input label.
	Name string

	// Vector is the L2-normalized embedding.
	Vector []float32

	// Err is an *InputError when this input alone failed.
	Err error

	// Cached is true when the vector came from the vector store instead of inference.
	Cached bool
}

// OK reports whether the result carries a vector.
func (r EmbeddingResult) OK() bool {
	return r.Err == nil
}
