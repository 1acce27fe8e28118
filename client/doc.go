/*
Package client hands a command invocation to a running preloader execution service and relays its standard streams.

A session uses four loopback TCP connections opened in a fixed order:

 1. P, the control connection: the framed request (see package wire) is sent here, and the exit status is read back from it at the end
 2. P+1: remote stdout, copied to the local stdout
 3. P+2: remote stderr, copied to the local stderr
 4. P+3: local stdin, copied to the remote stdin

The I/O connections are relayed by a single-threaded poll(2) loop. The loop ends as soon as the remote side closes stdout or stderr, which is how the service signals that the program finished.
End of file on the local stdin only closes the stdin connection; the remaining streams keep flowing.

If the control connection does not yield a complete status, the session reports StatusIndeterminate.
*/
package client
