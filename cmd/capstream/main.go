// capstream - serves filtered live packet captures over HTTP
package main

import "github.com/capstream/capstream/pkg/cli"

func main() {
	cli.Execute()
}
