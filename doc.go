// Package docpipe turns folders of downloaded evaluation reports into a
// searchable store of parsed, summarized, tagged, and embedded chunks.
//
// A run moves every eligible document through up to four stages (parse,
// summarize, index, tag) in isolated worker processes, tracking each
// document's status in a SQL store and its chunk embeddings in a vector
// store.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/kadirpekel/docpipe/cmd/docpipe@latest
//
// Configure a data source:
//
//	sources:
//	  usaid:
//	    downloader:
//	      command: scripts/download_usaid.sh
//	      args: ["--data-dir", "{data_dir}", "--num-records", "{num_records}"]
//
//	pipeline:
//	  workers: 4
//
//	embedding:
//	  mode: remote
//	  url: http://localhost:8080
//
// Process documents:
//
//	docpipe run --data-source usaid --config config.yaml
//
// # Using as Go Library
//
// Import the packages that make up the pipeline:
//
//	import (
//	    "github.com/kadirpekel/docpipe/pkg/config"
//	    "github.com/kadirpekel/docpipe/pkg/orchestrator"
//	    "github.com/kadirpekel/docpipe/pkg/store"
//	)
//
// # Architecture
//
// The orchestrator drives one run end to end:
//
//	download → scan → select → [workers: parse → summarize → index → tag]
//
// Worker processes answer tasks over a stdio protocol, so a document
// that exhausts memory or crashes its parser takes down only its own
// task; the supervisor records the loss and the run continues.
package docpipe
