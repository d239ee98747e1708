// Command authcore-cli is the operator tool for authcore deployments.
//
//	authcore-cli hash                    hash a password read from the terminal or stdin
//	authcore-cli totp -secret BASE32     print the current authenticator code
//	authcore-cli unlock -config f.yaml alice
//	authcore-cli clear-lockouts -config f.yaml
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "authcore-cli:", err)
		os.Exit(1)
	}
}
