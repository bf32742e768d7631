// Command collector runs the tracing and log collection server.
package main

import "github.com/tiberiusferreira/tracer-sub000/cmd"

func main() {
	cmd.Execute()
}
