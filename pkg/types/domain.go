package types

// Model describes a model registered with the server.
type Model struct {
	// Model identifier the engine is registered under.
	// example: HF://mlc-ai/Llama-3-8B-Instruct-q4f16_1-MLC
	ID string `json:"id" example:"HF://mlc-ai/Llama-3-8B-Instruct-q4f16_1-MLC"`
	// Model-store tag of the entry backing the engine.
	// example: llama-3-8b-instruct-q4f16_1-mlc
	Tag string `json:"tag" example:"llama-3-8b-instruct-q4f16_1-mlc"`
	// Store version of the entry.
	// example: 01HZX3Q8J4T8M6F4T9W2B1R7KQ
	Version string `json:"version,omitempty" example:"01HZX3Q8J4T8M6F4T9W2B1R7KQ"`
	// Absolute path of the store entry directory.
	Path string `json:"path"`
	// File name of the compiled inference library inside Path.
	// example: Llama-3-8B-Instruct-q4f16_1-cuda.so
	Library string `json:"library" example:"Llama-3-8B-Instruct-q4f16_1-cuda.so"`
	// Device the library was compiled for.
	// example: cuda:0
	Device string `json:"device,omitempty" example:"cuda:0"`
}
