// Package fetch downloads model files from Hugging Face style hubs.
//
// A Client talks to one source (a mirror or the default host) using the
// {base}/{namespace}/{name}/resolve/{revision}/{file} layout, retrying
// transient failures with exponential backoff. A Downloader fetches a model's
// files concurrently into a cache staging area and promotes it atomically.
package fetch
