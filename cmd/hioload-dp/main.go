// File: cmd/hioload-dp/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

func main() {
	Execute()
}
