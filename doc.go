// Package conform implements a conformance harness for tool-execution servers
// that speak JSON-RPC 2.0 over newline-delimited standard input/output, the
// transport convention popularized by the Model Context Protocol (MCP). The
// harness launches the server under test as a child process, walks it through
// the protocol lifecycle (initialize, session creation, tool discovery and
// tool invocation) and scores every response against declarative expectations.
//
// The package separates the conversation machinery (Transport, the codec in
// schema.go, Correlator, Conversation) from the scenario machinery (Scenario,
// Runner, Expectation, Report) so both halves can be tested in isolation and
// scenarios can be supplied either from the built-in suites or from YAML files.
package conform
