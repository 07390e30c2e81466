// Package core defines the shared data model of the conversation
// orchestrator: transcript messages, participant descriptors, the
// Conversation session object and the collaborator contracts (persistence,
// display, speech) the engine depends on. It is dependency-free so every
// other package can import it without cycles.
package core
