// Package model defines the contract between the resolver, the executor and a
// concrete image encoder, and the Handle that binds a loaded encoder to a device.
//
// Any encoder exposing a batch embedding function fits: implement Model for
// inference and Loader to build it from a cache entry.
package model
