package main

import "github.com/xiaonanln/mapshard/components/coordinator"

func main() {
	coordinator.Start()
}
