// Package nal reads the bit-level syntax of Annex B NAL units shared by
// H.264 and H.265.
//
// The central type is [Reader], a cursor over an escaped NAL unit payload. It
// reads fixed-width fields of up to 32 bits and Exp-Golomb codes, strips
// emulation prevention bytes (00 00 03) as it goes, and reports whether only
// RBSP trailing bits remain. [ScanForStartCodes] finds the start code prefix
// that delimits NAL units in a byte stream, and [CeilLog2] sizes the u(v)
// fields whose width depends on a count.
//
// A Reader borrows its buffer and never copies it. It is meant to be owned by
// a single parsing routine; copy the value to take a snapshot.
package nal
