package main

// General API documentation for swaggo.
//
// @title           mlcserve API
// @version         1.0
// @description     Streams text generated by an MLC-compiled model, plus OpenAI-compatible chat endpoints.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
