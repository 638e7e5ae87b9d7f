package main

import "github.com/xiaonanln/mapshard/components/shard"

func main() {
	shard.Start()
}
