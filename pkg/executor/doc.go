// Package executor runs shell and docker commands against a target machine.
//
// LocalExecutor starts every command in its own process group, drains stdout
// and stderr concurrently and kills the whole group when the context is
// cancelled. Remote docker daemons are reached by giving the executor a
// DOCKER_HOST environment entry; the commands themselves stay the same.
//
// FakeExecutor replays scripted results for tests.
package executor
