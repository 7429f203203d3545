package main

import "github.com/vietddude/juror/internal/cli"

func main() {
	cli.Execute()
}
