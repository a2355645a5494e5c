// Package services implements the driving port interfaces.
// Services contain the core business logic and orchestrate
// calls to driven ports (adapters).
//
// The pipeline is Assembler, DuplicateFilter and Publisher, sequenced by
// RunCoordinator. Services never import adapters.
package services
