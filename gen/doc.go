// Package gen contains the generation orchestration core: the provider
// adapter contract, the adapter registry, the lifecycle engine that turns a
// generation intent into tracked job records, and the polling state machine
// that drives asynchronous jobs to a terminal state.
package gen
