//go:build !tinygo

package main

// This file keeps the regular Go toolchain (staticcheck, go vet, host tests)
// happy. The actual entrypoint is in main.go (TinyGo only).

func main() {
	println("inverterzone gateway: build this target with tinygo -scheduler=tasks")
}
