// Package embedder generates vector embeddings for document chunks.
//
// Four providers implement the Embedder interface: Jina AI and OpenAI over
// their shared /v1/embeddings wire format, a self-hosted Ollama instance,
// and an offline feature-hashing model. Remote providers retry 429 and 5xx
// responses with exponential backoff, honour an optional requests-per-second
// limit, and split inputs larger than MaxBatchSize.
//
// # Pool
//
// Indexing and search never talk to a provider directly. They go through a
// Pool, a fixed set of instances guarded by a weighted semaphore:
//
//	pool, err := embedder.NewPool(0, embedder.NewFactory(cfg), logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
//
//	vectors, err := pool.EmbedBatch(ctx, texts)
//
// Pool size defaults to runtime.NumCPU(). Each call borrows one instance
// for one batch and returns it, even on failure. When every instance is
// busy the caller blocks until one frees up or its context ends. Embed is a
// one-element EmbedBatch.
//
// # Caching
//
// Instances built by NewFactory share one LRU Cache keyed by provider,
// model and the SHA-256 of the text. Cached vectors are copied on the way
// in and out.
//
// # Configuration
//
//	DOCSEARCH_EMBEDDING_PROVIDER  jina | openai | ollama | local
//	JINA_API_KEY, OPENAI_API_KEY  credentials for the hosted providers
//	OLLAMA_HOST                   base URL of an Ollama server
//
// DetectProvider applies the same precedence the config layer uses when no
// provider is set explicitly.
package embedder
