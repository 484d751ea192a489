// Command memoryd is the thin daemon entrypoint: it loads configuration,
// opens the store, wires the tiered-memory components together, and
// runs the background scheduler plus the optional demo REST API until
// signalled to stop. It is grounded on the teacher's cmd/mycelicmemory
// root.go (cobra root command, persistent config flag, signal-driven
// context cancellation).
package main

func main() {
	Execute()
}
