/*
Package patch redirects the entry point of an already loaded, not yet started process image into a bootstrap routine, and undoes the redirection.

A Patcher overwrites the first bytes at the entry address with a trampoline: a short instruction sequence that loads the absolute address of the bootstrap routine into a scratch register and calls through it.
The register carrying the first argument of the entry point is left untouched, so the bootstrap routine observes the same value the original entry point would have.
The overwritten bytes are kept so that Restore can put them back.
Restore also reports how many instruction bytes preceded the embedded address. That count equals the distance from the entry to the return address only on ARM64; on AMD64 the return address is the end of the trampoline.

The trampoline is a call, not a jump: the bootstrap routine must never return into the patched range.

The instruction set is chosen at build time, see Native. The package only builds for targets with 8-byte pointers.

Patch and restore are not safe for concurrent use and must run before any other thread can execute the patched code.
*/
package patch
