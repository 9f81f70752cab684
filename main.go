// ./main.go
package main

import (
	"github.com/weiyun0912/webpilot/cmd"
)

// main is the entry point for the webpilot CLI.
func main() {
	cmd.Execute()
}
