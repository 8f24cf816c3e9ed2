// Package scriba augments a document management service with LLM-driven
// metadata inference.
//
// Scriba drives each scanned document through an ordered pipeline of
// inference steps: OCR repair, summary, title, correspondent, document
// type, tags and custom fields. Every step proposes a value with a large
// reasoning model, verifies it with a small confirmation model, applies
// confirmed results back to the DMS and queues everything else for human
// review. Pipeline state lives in the DMS's own tag set, so progress is
// visible and editable in the DMS UI itself.
//
// # Quick Start
//
// Install scriba:
//
//	go install github.com/scribadev/scriba/cmd/scriba@latest
//
// Point it at your DMS and models, then start the server:
//
//	scriba serve --config scriba.yaml
//
// Runtime settings (model endpoints, workflow tag names, step toggles,
// polling interval) live in scriba's own store and are editable through
// the HTTP API while the server runs.
//
// # Packages
//
//   - pkg/pipeline: the per-document step orchestrator
//   - pkg/agents: the seven step agents
//   - pkg/loop: the analyze/confirm/retry engine
//   - pkg/scheduler: the single-flight background loop
//   - pkg/review: the pending-review queue
//   - pkg/bootstrap: the schema-cleanup analyzer
//   - pkg/dms: the typed DMS REST adapter
package scriba
