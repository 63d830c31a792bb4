package main

import (
	"mint-auditor/internal/cli"
)

func main() {
	cli.Execute()
}
