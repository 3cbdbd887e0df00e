package main

import (
	"github.com/Paintersrp/procsup/internal/cli"
)

func main() {
	cli.Execute()
}
