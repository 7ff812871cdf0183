package main

import "github.com/heavensprominence/credparity/internal/cli"

func main() {
	cli.Execute()
}
