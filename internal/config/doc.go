// Package config loads the typed docsearch configuration.
//
// Settings come from a TOML file (default ~/.docsearch/config.toml) laid
// over Default, then from environment variables:
//
//	DOCSEARCH_DB_PATH             database.path
//	DOCSEARCH_LOG_LEVEL           log.level
//	DOCSEARCH_EMBEDDING_PROVIDER  embedding.provider
//	JINA_API_KEY                  embedding.api_key when the provider is jina
//	OPENAI_API_KEY                embedding.api_key when the provider is openai
//	OLLAMA_HOST                   embedding.base_url when the provider is ollama
//
// With no provider configured, the first of JINA_API_KEY, OPENAI_API_KEY
// and OLLAMA_HOST that is set picks one; otherwise the local embedder is
// used. Unknown keys in the file are errors.
package config
