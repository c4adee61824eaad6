package main

import "github.com/devicelab-dev/device-agent/pkg/cli"

func main() {
	cli.Execute()
}
