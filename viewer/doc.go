/*
Package viewer launches a web app as a background process and announces it to a front-end panel once it is serving.

An AppViewer owns at most one app process at a time. Each Show stops the previous process, picks a port, starts the app with its host, port and path prefix, waits for the app to print its readiness line, and then sends a show message over the messaging channel from package comm.
*/
package viewer
