package main

// 发布时通过 ldflags 注入
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)
