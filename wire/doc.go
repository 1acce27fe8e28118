/*
Package wire implements the framing spoken on the control connection between a preloader client and the execution service.

The control connection carries one request and one response:

 1. argc, 4 bytes, big-endian signed integer: the number of argument vector entries
 2. length, 4 bytes, big-endian signed integer: the number of payload bytes that follow
 3. payload: the working directory followed by each argument, every string NUL-terminated
 4. (response) status, 4 bytes, big-endian signed integer: the exit status of the program

Standard output, standard error and standard input travel on three further connections as raw, unframed byte streams.
*/
package wire
