// Package cache manages the on-disk model cache.
//
// Layout under the cache root:
//
//	models--{namespace}--{name}[--{revision}]/   one directory per model
//	    <model files>
//	    .imgembed-complete                       manifest, written last
//	.staging/                                    in-flight downloads
//	.locks/                                      cross-process promotion locks
//
// A model directory is only an entry once its manifest exists and every file it
// lists is present with the recorded size. Downloads never write into a model
// directory directly: they fill a Staging directory which Promote renames into
// place under both an in-process and a cross-process lock.
package cache
