package main

import "github.com/vietddude/rentdesk/internal/cli"

func main() {
	cli.Execute()
}
