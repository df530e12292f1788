// icsrisk quantifies cyber risk for industrial control systems.
package main

import "github.com/ppiankov/icsrisk/internal/cli"

func main() {
	cli.Execute()
}
