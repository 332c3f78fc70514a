// Command chatwire is the terminal chat client.
package main

import "chatwire/internal/cli"

func main() {
	cli.Execute()
}
