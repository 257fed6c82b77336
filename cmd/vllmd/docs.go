package main

// General API documentation for swaggo. Run `swag init -g cmd/vllmd/main.go`
// to regenerate docs.
//
// @title           vllm-server API
// @version         1.0
// @description     HTTP API for managing and proxying multiple vLLM model instances.
//
// @BasePath  /
//
// @schemes http
