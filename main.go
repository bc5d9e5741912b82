package main

import "github.com/frahmantamala/ssoflow/cmd"

func main() {
	cmd.Execute()
}
