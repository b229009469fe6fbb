// Package devmapper speaks the kernel device-mapper control protocol to
// provision encrypted block-device mappings.
//
// A mapping is brought online through a strict command sequence against the
// control device: create the named mapping, query its status for the
// kernel-assigned device number, load a single-target table carrying the
// crypto parameters, and resume the device to activate it. Each command is a
// fixed-size binary buffer with a versioned header; the exact field layout is
// a hard compatibility contract with the kernel and is built by a
// bounds-checked buffer type rather than pointer arithmetic.
//
// Table loading is retried a bounded number of times because the mapping
// driver occasionally reports the device busy immediately after creation.
// Activation is never retried: once the table is loaded, a resume failure
// indicates a problem that retrying cannot fix.
//
// The Control interface isolates ioctl issuance so the whole protocol is
// unit-testable without a kernel.
package devmapper
